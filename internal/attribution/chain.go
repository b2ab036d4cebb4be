// 包 attribution：为缺失国家归属的蜂窝补齐国家代码与名称
// 背景：上游数据偶有 country_code 为空；聚合前按中心坐标反查，未补齐的蜂窝归入 UNK。
// 约束：归属来源按注册顺序依次尝试，首个成功者生效；任何来源失败都不应中断整批处理。
package attribution

import (
	"context"
	"errors"
	"fmt"

	"bounty-overlay/internal/logger"
)

// ErrNoSource：所有来源均未给出结果
var ErrNoSource = errors.New("attribution: no source resolved coordinate")

// Source：坐标 → 国家的查询来源
type Source interface {
	Name() string
	ReverseCountry(ctx context.Context, lat, lon float64) (code string, name string, err error)
}

// Chain：按顺序尝试的来源链
type Chain struct {
	sources []Source
}

// NewChain：忽略 nil 来源
func NewChain(srcs ...Source) *Chain {
	c := &Chain{}
	for _, s := range srcs {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Len：来源数量
func (c *Chain) Len() int { return len(c.sources) }

// Resolve：依次查询，返回首个非空结果及其来源名
func (c *Chain) Resolve(ctx context.Context, lat, lon float64) (Result, error) {
	var errs []error
	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		code, name, err := s.ReverseCountry(ctx, lat, lon)
		if err != nil {
			logger.L().Debug("attribution_source_fail", "source", s.Name(), "lat", lat, "lon", lon, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if code == "" {
			continue
		}
		return Result{Code: code, Name: name, Source: s.Name()}, nil
	}
	if len(errs) > 0 {
		return Result{}, fmt.Errorf("%w: %w", ErrNoSource, errors.Join(errs...))
	}
	return Result{}, ErrNoSource
}
