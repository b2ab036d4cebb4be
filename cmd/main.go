// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bounty-overlay/internal/api"
	"bounty-overlay/internal/attribution"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/locate"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"
	"bounty-overlay/internal/middleware"
	"bounty-overlay/internal/migrate"
	"bounty-overlay/internal/nominatim"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/revgeo"
	"bounty-overlay/internal/store"
	"bounty-overlay/internal/utils"
	"bounty-overlay/internal/webmap"
	"bounty-overlay/internal/wxm"

	"github.com/paulmach/orb"
)

func main() {
	config.LoadEnvFiles()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.Load()
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 背景：持久化可选；未启用时刷新失败只能回退到种子文件
	var cellStore registry.CellStore
	var status api.StatusReader
	db, err := utils.OpenPostgres(ctx, cfg.Postgres)
	switch {
	case err != nil:
		l.Error("db_open_error", "err", err)
	case db == nil:
		l.Info("db_disabled")
	default:
		st := store.AttachDB(db)
		defer st.Close()
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		cellStore = st
		status = st
		l.Info("db_open_ok")
	}

	rc := utils.OpenRedis(cfg.Redis)
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	// 归属链：本地边界优先，Nominatim 兜底
	var sources []attribution.Source
	if snap, err := revgeo.LoadSnapshot(cfg.RevGeo.Dir); err == nil {
		g := revgeo.New(snap, revgeo.Options{CacheTTL: cfg.RevGeo.CacheTTL, MaxRadiusKm: cfg.RevGeo.MaxRadiusKm})
		sources = append(sources, g)
		l.Info("revgeo_ready", "countries", g.Size())
	} else {
		l.Warn("revgeo_unavailable", "dir", cfg.RevGeo.Dir, "err", err)
	}
	if cfg.Nominatim.Enabled {
		sources = append(sources, nominatim.New(cfg.Nominatim.BaseURL, cfg.Nominatim.QPS, cfg.WXM.UserAgent, &http.Client{Timeout: 5 * time.Second}))
		l.Info("nominatim_enabled", "base", cfg.Nominatim.BaseURL, "qps", cfg.Nominatim.QPS)
	}
	attr := attribution.New(attribution.NewChain(sources...), rc, 30*24*time.Hour)

	reg := registry.New()
	refresher := registry.NewRefresher(reg, wxm.New(cfg.WXM), cellStore, attr, cfg.Bounty.SeedPath)
	refresher.StartPeriodic(ctx, cfg.Bounty.RefreshInterval)

	var resolver locate.CountryResolver
	if g, err := locate.OpenGeoIP(cfg.GeoIPPath); err != nil {
		l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
	} else if g != nil {
		defer g.Close()
		resolver = g
		l.Info("geoip_ready", "path", cfg.GeoIPPath)
	}
	locator := locate.New(resolver, reg, webmap.Camera{Center: orb.Point{0, 20}, Zoom: 2})

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{
		Registry:   reg,
		Refresher:  refresher,
		Locator:    locator,
		Overlay:    cfg.Overlay,
		Status:     status,
		AdminToken: cfg.AdminToken,
	})
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	mux.Handle("/", http.FileServer(http.Dir(cfg.UIDir)))

	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + cfg.APIBase + "'\n"))
		_, _ = w.Write([]byte("window.__OVERLAY_WS__='" + cfg.APIBase + "/overlay/ws'\n"))
	})

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.RateLimit(handler, cfg.RateLimitEnabled, cfg.RateLimitQPS)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
	}()

	if cfg.TLS.Enabled {
		if err := utils.EnsureCert(cfg.TLS); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLS.CertPath)
		err = s.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}
