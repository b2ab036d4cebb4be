// 数据导入工具：一次性拉取赏金蜂窝、补齐国家归属并写入 PostgreSQL 快照
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"bounty-overlay/internal/attribution"
	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/migrate"
	"bounty-overlay/internal/nominatim"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/revgeo"
	"bounty-overlay/internal/store"
	"bounty-overlay/internal/utils"
	"bounty-overlay/internal/wxm"

	"github.com/spf13/cobra"
)

// cellSink：快照写入目标
type cellSink interface {
	ReplaceCells(ctx context.Context, source string, cells []bounty.Cell) error
}

type cellAttributor interface {
	Attribute(ctx context.Context, cells []bounty.Cell) ([]bounty.Cell, attribution.Stats, error)
}

type ingestOptions struct {
	seed    string
	dryRun  bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	var o ingestOptions
	cmd := &cobra.Command{
		Use:          "bounty-ingest",
		Short:        "Fetch bounty cells, attribute countries and store the snapshot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnvFiles()
			logger.Setup()
			cfg := config.Load()
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			var sink cellSink
			if !o.dryRun {
				cfg.Postgres.Enabled = true
				db, err := utils.OpenPostgres(ctx, cfg.Postgres)
				if err != nil {
					return fmt.Errorf("open postgres: %w", err)
				}
				st := store.AttachDB(db)
				defer st.Close()
				if err := migrate.EnsureSchema(ctx, db); err != nil {
					return err
				}
				sink = st
			}
			rc := utils.OpenRedis(cfg.Redis)
			if rc != nil {
				defer rc.Close()
			}

			var fetch func(context.Context) ([]bounty.Cell, error)
			source := registry.SourceAPI
			if o.seed != "" {
				source = registry.SourceSeed
				fetch = func(context.Context) ([]bounty.Cell, error) { return registry.LoadSeed(o.seed) }
			} else {
				fetch = wxm.New(cfg.WXM).FetchBountyCells
			}
			attr := attribution.New(buildChain(cfg), rc, 30*24*time.Hour)
			return ingest(ctx, fetch, attr, sink, source, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.seed, "seed", "", "read cells from a JSON seed file instead of the API")
	f.BoolVar(&o.dryRun, "dry-run", false, "attribute and report without writing to postgres")
	f.DurationVar(&o.timeout, "timeout", 10*time.Minute, "overall deadline")
	return cmd
}

// buildChain：本地边界优先，Nominatim 兜底
func buildChain(cfg *config.Config) *attribution.Chain {
	var sources []attribution.Source
	if snap, err := revgeo.LoadSnapshot(cfg.RevGeo.Dir); err == nil {
		sources = append(sources, revgeo.New(snap, revgeo.Options{CacheTTL: cfg.RevGeo.CacheTTL, MaxRadiusKm: cfg.RevGeo.MaxRadiusKm}))
	} else {
		logger.L().Warn("revgeo_unavailable", "dir", cfg.RevGeo.Dir, "err", err)
	}
	if cfg.Nominatim.Enabled {
		sources = append(sources, nominatim.New(cfg.Nominatim.BaseURL, cfg.Nominatim.QPS, cfg.WXM.UserAgent, &http.Client{Timeout: 5 * time.Second}))
	}
	return attribution.NewChain(sources...)
}

// ingest：拉取 → 归属 → 写库，并输出统计
// 约束：sink 为 nil 时只统计不写入；拉取结果为空视为失败，避免用空快照覆盖库
func ingest(ctx context.Context, fetch func(context.Context) ([]bounty.Cell, error), attr cellAttributor, sink cellSink, source string, out io.Writer) error {
	t0 := time.Now()
	cells, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(cells) == 0 {
		return errors.New("fetch: no cells")
	}
	cells, st, err := attr.Attribute(ctx, cells)
	if err != nil {
		return fmt.Errorf("attribute: %w", err)
	}
	if sink != nil {
		if err := sink.ReplaceCells(ctx, source, cells); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	snap := registry.Build(source, cells)
	logger.L().Info("ingest_done", "source", source, "cells", len(cells), "clusters", len(snap.Clusters), "duration_ms", time.Since(t0).Milliseconds())
	_, err = fmt.Fprintf(out, "source=%s cells=%d clusters=%d filled=%d missing=%d skipped=%d stored=%t\n",
		source, len(cells), len(snap.Clusters), st.Filled, st.Missing, st.Skipped, sink != nil)
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
