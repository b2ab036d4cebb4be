// 包 nominatim：OpenStreetMap Nominatim 反地理客户端
// 背景：离线边界数据未覆盖的坐标（新蜂窝、近海）由 Nominatim 兜底补齐国家归属。
// 约束：公共实例限速 1 req/s；请求必须带可识别的 User-Agent。
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// ErrNoCountry：响应中没有国家信息（海上或服务端无法解析）
var ErrNoCountry = errors.New("nominatim: no country in response")

// ReverseResponse：jsonv2 反查响应中用到的字段
type ReverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

type Address struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// Client：带出站限速的 Nominatim 客户端
type Client struct {
	base    string
	ua      string
	hc      *http.Client
	limiter *rate.Limiter
}

// New：qps<=0 时按 1 req/s；hc 为空时使用 10s 超时的默认客户端
func New(base string, qps float64, userAgent string, hc *http.Client) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	if qps <= 0 {
		qps = 1
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		ua:      userAgent,
		hc:      hc,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
	}
}

// Name：归属来源名
func (c *Client) Name() string { return "nominatim" }

// Reverse：国家级反查（zoom=3）
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*ReverseResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "jsonv2")
	q.Set("zoom", "3")
	q.Set("accept-language", "en-US")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	t0 := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.NominatimRequestsTotal.WithLabelValues("error").Inc()
		logger.L().Warn("nominatim_http_error", "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	metrics.NominatimRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}
	var r ReverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Warn("nominatim_decode_error", "err", err)
		return nil, err
	}
	logger.L().Debug("nominatim_resp", "lat", lat, "lon", lon, "country", r.Address.CountryCode, "duration_ms", time.Since(t0).Milliseconds())
	return &r, nil
}

// ReverseCountry：返回大写国家代码与英文国家名
func (c *Client) ReverseCountry(ctx context.Context, lat, lon float64) (string, string, error) {
	r, err := c.Reverse(ctx, lat, lon)
	if err != nil {
		return "", "", err
	}
	if r.Error != "" || r.Address.CountryCode == "" {
		return "", "", ErrNoCountry
	}
	return strings.ToUpper(r.Address.CountryCode), r.Address.Country, nil
}
