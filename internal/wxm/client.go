// 包 wxm：WeatherXM 网络 API 客户端（赏金蜂窝）
// 背景：赏金蜂窝快照的主来源；瞬时故障（网络错误、5xx）按退避重试，4xx 直接失败。
// 约束：每次请求携带 X-WXM-CLIENT 头（"{user agent};{client id}"）。
package wxm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const clientHeader = "X-WXM-CLIENT"

// StatusError：非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wxm: status %d: %s", e.Code, e.Body)
}

// Client：赏金蜂窝查询客户端
type Client struct {
	url       string
	header    string
	hc        *http.Client
	baseDelay time.Duration
	maxDelay  time.Duration
	exec      failsafe.Executor[*http.Response]
}

// Option：客户端可选项
type Option func(*Client)

// WithHTTPClient：替换默认 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithBackoff：重试退避区间
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.baseDelay, c.maxDelay = base, max }
}

// New：按配置构建客户端
func New(cfg config.WXMConfig, opts ...Option) *Client {
	c := &Client{
		url:       strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.BountyPath, "/"),
		header:    cfg.UserAgent + ";" + cfg.ClientID,
		baseDelay: 200 * time.Millisecond,
		maxDelay:  5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c.hc = &http.Client{Timeout: timeout}
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(c.baseDelay, c.maxDelay).
		WithMaxRetries(retries).
		HandleIf(shouldRetry).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			logger.L().Warn("wxm_retry", "attempt", e.Attempts(), "err", e.LastError())
		}).
		Build()
	c.exec = failsafe.With(policy)
	return c
}

// shouldRetry：网络错误与 5xx 重试
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp != nil && resp.StatusCode >= 500
}

// FetchBountyCells：拉取当前全部赏金蜂窝
func (c *Client) FetchBountyCells(ctx context.Context) ([]bounty.Cell, error) {
	t0 := time.Now()
	metrics.WXMRequestsTotal.Inc()
	resp, err := c.exec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(clientHeader, c.header)
		req.Header.Set("Accept", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			// 仅状态码参与重试判定，响应体在此释放
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return resp, nil
	})
	metrics.WXMDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		metrics.WXMFailTotal.Inc()
		logger.L().Error("wxm_http_error", "url", c.url, "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WXMFailTotal.Inc()
		body := ""
		if resp.StatusCode < 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			body = strings.TrimSpace(string(b))
		}
		logger.L().Error("wxm_status_error", "url", c.url, "status", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode, Body: body}
	}
	var cells []bounty.Cell
	if err := json.NewDecoder(resp.Body).Decode(&cells); err != nil {
		metrics.WXMFailTotal.Inc()
		logger.L().Error("wxm_decode_error", "err", err)
		return nil, fmt.Errorf("wxm: decode cells: %w", err)
	}
	logger.L().Info("wxm_cells_fetched", "cells", len(cells), "duration_ms", time.Since(t0).Milliseconds())
	return cells, nil
}
