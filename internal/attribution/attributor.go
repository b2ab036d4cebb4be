package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// Result：一次归属结果
type Result struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Stats：一批蜂窝的归属统计
type Stats struct {
	Filled  int
	Missing int
	Skipped int
}

// Attributor：来源链 + 可选 Redis 热点缓存
// 约束：rc 为空时不使用缓存；缓存读写失败按未命中处理
type Attributor struct {
	chain *Chain
	rc    *redis.Client
	ttl   time.Duration
}

func New(chain *Chain, rc *redis.Client, ttl time.Duration) *Attributor {
	if chain == nil {
		chain = NewChain()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Attributor{chain: chain, rc: rc, ttl: ttl}
}

// cacheKey：坐标量化到 0.001°
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("revgeo:%.3f:%.3f", lat, lon)
}

// Lookup：缓存 → 来源链；成功结果写回缓存
func (a *Attributor) Lookup(ctx context.Context, lat, lon float64) (Result, error) {
	key := cacheKey(lat, lon)
	if a.rc != nil {
		s, err := a.rc.Get(ctx, key).Result()
		switch {
		case err == nil:
			var out Result
			if json.Unmarshal([]byte(s), &out) == nil && out.Code != "" {
				metrics.ReverseGeoCacheTotal.WithLabelValues("hit").Inc()
				return out, nil
			}
			metrics.ReverseGeoCacheTotal.WithLabelValues("corrupt").Inc()
		case errors.Is(err, redis.Nil):
			metrics.ReverseGeoCacheTotal.WithLabelValues("miss").Inc()
		default:
			metrics.ReverseGeoCacheTotal.WithLabelValues("error").Inc()
			logger.L().Debug("attribution_cache_get_fail", "key", key, "err", err)
		}
	}
	out, err := a.chain.Resolve(ctx, lat, lon)
	if err != nil {
		return Result{}, err
	}
	out.Code = bounty.NormalizeCode(out.Code)
	if a.rc != nil {
		b, _ := json.Marshal(out)
		if err := a.rc.Set(ctx, key, b, a.ttl).Err(); err != nil {
			logger.L().Debug("attribution_cache_set_fail", "key", key, "err", err)
		}
	}
	return out, nil
}

// Attribute：为缺失国家代码的蜂窝补齐归属，返回新切片
// 约束：已有代码的蜂窝原样保留；中心坐标非有限值的蜂窝跳过；上下文取消时返回已处理部分与错误
func (a *Attributor) Attribute(ctx context.Context, cells []bounty.Cell) ([]bounty.Cell, Stats, error) {
	out := append([]bounty.Cell(nil), cells...)
	var st Stats
	memo := make(map[string]Result)
	for i := range out {
		c := &out[i]
		if bounty.NormalizeCode(c.CountryCode) != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, st, err
		}
		lat, lon := c.Center.Lat, c.Center.Lon
		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
			st.Skipped++
			continue
		}
		key := cacheKey(lat, lon)
		r, ok := memo[key]
		if !ok {
			var err error
			r, err = a.Lookup(ctx, lat, lon)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return out, st, ctxErr
				}
				st.Missing++
				continue
			}
			memo[key] = r
		}
		c.CountryCode = r.Code
		if c.CountryName == "" {
			c.CountryName = r.Name
		}
		st.Filled++
	}
	logger.L().Info("attribution_done", "cells", len(cells), "filled", st.Filled, "missing", st.Missing, "skipped", st.Skipped)
	return out, st, nil
}
