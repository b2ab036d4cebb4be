package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"bounty-overlay/internal/attribution"
	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"
)

// ErrNoCells：API、存储与种子文件均未提供数据
var ErrNoCells = errors.New("registry: no bounty cells from any source")

// 刷新来源
const (
	SourceAPI   = "api"
	SourceStore = "store"
	SourceSeed  = "seed"
)

// CellSource：上游 API
type CellSource interface {
	FetchBountyCells(ctx context.Context) ([]bounty.Cell, error)
}

// CellStore：快照持久化
type CellStore interface {
	LoadCells(ctx context.Context) ([]bounty.Cell, error)
	ReplaceCells(ctx context.Context, source string, cells []bounty.Cell) error
}

// Attributor：补齐国家归属
type Attributor interface {
	Attribute(ctx context.Context, cells []bounty.Cell) ([]bounty.Cell, attribution.Stats, error)
}

// Refresher：拉取 → 归属 → 聚合 → 持久化 → 替换快照
// 约束：任一依赖可为 nil；同一时刻只运行一次刷新
type Refresher struct {
	reg      *Registry
	api      CellSource
	store    CellStore
	attr     Attributor
	seedPath string
	mu       sync.Mutex
}

func NewRefresher(reg *Registry, api CellSource, store CellStore, attr Attributor, seedPath string) *Refresher {
	return &Refresher{reg: reg, api: api, store: store, attr: attr, seedPath: seedPath}
}

// Refresh：执行一次刷新
// 背景：API 失败时回退到最近持久化快照，再回退到种子文件，保证覆盖层不会因上游故障而整体消失
func (f *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t0 := time.Now()
	cells, source, err := f.fetch(ctx)
	if err != nil {
		metrics.RefreshFailTotal.Inc()
		logger.L().Error("refresh_no_source", "err", err)
		return nil, err
	}
	if f.attr != nil {
		attributed, st, err := f.attr.Attribute(ctx, cells)
		if err != nil {
			return nil, err
		}
		cells = attributed
		logger.L().Debug("refresh_attributed", "filled", st.Filled, "missing", st.Missing)
	}
	snap := Build(source, cells)
	if source == SourceAPI && f.store != nil {
		if err := f.store.ReplaceCells(ctx, source, cells); err != nil {
			logger.L().Warn("refresh_persist_fail", "err", err)
		}
	}
	f.reg.Swap(snap)
	metrics.RefreshTotal.WithLabelValues(source).Inc()
	metrics.ClustersCurrent.Set(float64(len(snap.Clusters)))
	logger.L().Info("refresh_done", "source", source, "cells", len(cells), "clusters", len(snap.Clusters), "duration_ms", time.Since(t0).Milliseconds())
	return snap, nil
}

func (f *Refresher) fetch(ctx context.Context) ([]bounty.Cell, string, error) {
	var errs []error
	if f.api != nil {
		cells, err := f.api.FetchBountyCells(ctx)
		if err == nil {
			return cells, SourceAPI, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("api: %w", err))
		logger.L().Warn("refresh_api_fail", "err", err)
	}
	if f.store != nil {
		cells, err := f.store.LoadCells(ctx)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("store: %w", err))
			logger.L().Warn("refresh_store_fail", "err", err)
		case len(cells) > 0:
			return cells, SourceStore, nil
		}
	}
	if f.seedPath != "" {
		cells, err := LoadSeed(f.seedPath)
		if err == nil {
			return cells, SourceSeed, nil
		}
		errs = append(errs, fmt.Errorf("seed: %w", err))
		logger.L().Warn("refresh_seed_fail", "path", f.seedPath, "err", err)
	}
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("%w: %w", ErrNoCells, errors.Join(errs...))
	}
	return nil, "", ErrNoCells
}

// LoadSeed：读取 JSON 数组格式的蜂窝种子文件
func LoadSeed(path string) ([]bounty.Cell, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cells []bounty.Cell
	if err := json.Unmarshal(b, &cells); err != nil {
		return nil, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return cells, nil
}

// StartPeriodic：立即刷新一次，之后按固定间隔刷新，ctx 取消时退出
// 约束：错误只记录日志，调度继续
func (f *Refresher) StartPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if _, err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.L().Error("refresh_error", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}
