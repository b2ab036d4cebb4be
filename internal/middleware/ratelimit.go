// 包 middleware：入口限流
package middleware

import (
	"net/http"

	"bounty-overlay/internal/logger"

	"golang.org/x/time/rate"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：流量峰值时对入口限速，避免刷新与布局计算被过载。
// 约束：不排队，超限直接返回 429；突发容量等于每秒速率。
func RateLimit(next http.Handler, enabled bool, qps int) http.Handler {
	if !enabled {
		return next
	}
	if qps <= 0 {
		qps = 200
	}
	lim := rate.NewLimiter(rate.Limit(qps), qps)
	logger.L().Debug("ratelimit_enabled", "qps", qps)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
