// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/config"
	"bounty-overlay/internal/coordinator"
	"bounty-overlay/internal/locate"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/overlay"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/store"
	"bounty-overlay/internal/webmap"

	"github.com/paulmach/orb"
)

// ErrUnauthorized：管理口令缺失或不匹配
var ErrUnauthorized = errors.New("unauthorized")

// Refresher：手动刷新入口，生产中由 registry.Refresher 提供
type Refresher interface {
	Refresh(ctx context.Context) (*registry.Snapshot, error)
}

// StatusReader：最近一次持久化刷新记录，生产中由 store.Store 提供
type StatusReader interface {
	LastRefresh(ctx context.Context) (*store.RefreshInfo, error)
}

// Deps：路由依赖；Refresher 与 Status 可为空
type Deps struct {
	Registry   *registry.Registry
	Refresher  Refresher
	Status     StatusReader
	Locator    *locate.Locator
	Overlay    config.OverlayConfig
	AdminToken string
}

// countryEntry：国家列表项，附带列表展示用的数量文案
type countryEntry struct {
	aggregate.Cluster
	Label string `json:"label,omitempty"`
}

func countryEntries(clusters []aggregate.Cluster) []countryEntry {
	out := make([]countryEntry, 0, len(clusters))
	for _, c := range clusters {
		label, _ := bounty.FormatNearbyLabel(c.Count, true)
		out = append(out, countryEntry{Cluster: c, Label: label})
	}
	return out
}

// defaultCamera：未配置定位器时的初始视角
var defaultCamera = webmap.Camera{Center: orb.Point{0, 20}, Zoom: 2}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/countries", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap := d.Registry.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"countries":  countryEntries(registry.Search(snap.Clusters, r.URL.Query().Get("q"))),
			"source":     snap.Source,
			"updated_at": snap.BuiltAt,
		})
	})

	// 背景：内存快照可能来自种子或库回退，last_refresh 给出库中最近一次成功刷新
	apiMux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap := d.Registry.Current()
		body := map[string]any{
			"source":       snap.Source,
			"cells":        len(snap.Cells),
			"clusters":     len(snap.Clusters),
			"built_at":     snap.BuiltAt,
			"last_refresh": nil,
		}
		if d.Status != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			info, err := d.Status.LastRefresh(ctx)
			if err != nil {
				logger.L().Warn("status_last_refresh_error", "err", err)
			} else if info != nil {
				body["last_refresh"] = info
			}
		}
		writeJSON(w, http.StatusOK, body)
	})

	apiMux.HandleFunc("/cells", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeGeoJSON(w, bounty.CellsCollection(d.Registry.Current().Cells))
	})

	apiMux.HandleFunc("/cells/heatmap", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeGeoJSON(w, bounty.HeatmapCollection(d.Registry.Current().Cells))
	})

	apiMux.HandleFunc("/layout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req layoutRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if req.Width <= 0 || req.Height <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "width and height must be positive"})
			return
		}
		writeJSON(w, http.StatusOK, statelessLayout(req, d.Registry.Current().Clusters, d.Overlay))
	})

	apiMux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := checkAdmin(r, d.AdminToken); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if d.Refresher == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()
		snap, err := d.Refresher.Refresh(ctx)
		if err != nil {
			logger.L().Error("bounty_refresh_manual_error", "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":   snap.Source,
			"cells":    len(snap.Cells),
			"clusters": len(snap.Clusters),
		})
	})

	apiMux.HandleFunc("/overlay/ws", func(w http.ResponseWriter, r *http.Request) {
		serveOverlay(d, w, r)
	})

	return apiMux
}

// checkAdmin：校验 x-admin-token；未配置口令时一律拒绝
func checkAdmin(r *http.Request, token string) error {
	t := r.Header.Get("x-admin-token")
	if token == "" || t != token {
		return ErrUnauthorized
	}
	return nil
}

// layoutRequest：无状态布局请求，center 为 [lon, lat]
type layoutRequest struct {
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Center     [2]float64 `json:"center"`
	Zoom       float64    `json:"zoom"`
	Bearing    float64    `json:"bearing"`
	Selected   []string   `json:"selected"`
	SelectAll  bool       `json:"select_all"`
	Focused    string     `json:"focused"`
	DrawerOpen bool       `json:"drawer_open"`
	Compact    bool       `json:"compact"`
}

type layoutResponse struct {
	Camera     webmap.Camera           `json:"camera"`
	Labels     []overlay.LabelPosition `json:"labels"`
	Indicators []overlay.EdgeIndicator `json:"indicators"`
	Context    overlay.LayoutContext   `json:"context"`
}

// statelessLayout：按请求描述的视口与选择集做一次布局
// 约束：已选簇保持注册表中的顺序；未知 ID 忽略
func statelessLayout(req layoutRequest, clusters []aggregate.Cluster, oc config.OverlayConfig) layoutResponse {
	m := webmap.New(req.Width, req.Height, webmap.Camera{
		Center:  orb.Point{req.Center[0], req.Center[1]},
		Zoom:    req.Zoom,
		Bearing: req.Bearing,
	})
	want := make(map[string]struct{}, len(req.Selected))
	for _, id := range req.Selected {
		want[id] = struct{}{}
	}
	selected := make([]aggregate.Cluster, 0, len(want))
	for _, c := range clusters {
		if _, ok := want[c.ID]; ok || req.SelectAll {
			selected = append(selected, c)
		}
	}
	offset := 0.0
	if req.DrawerOpen && !req.Compact {
		offset = oc.DrawerWidth
	}
	lc := overlay.NewLayoutContext(req.Width, req.Height, offset, oc.Params())
	labels, indicators := coordinator.Layout(m, selected, req.Focused, lc)
	return layoutResponse{Camera: m.Camera(), Labels: labels, Indicators: indicators, Context: lc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGeoJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/geo+json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
