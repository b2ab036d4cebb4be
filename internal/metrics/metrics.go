package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LayoutPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bounty_overlay_layout_passes_total",
		Help: "Total number of overlay layout recomputations",
	})
	LayoutDurationUs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bounty_overlay_layout_duration_us",
		Help:    "Overlay layout pass duration in microseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 20000},
	})
	NavigationEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_overlay_navigation_events_total",
		Help: "Map navigation events received while the overlay is attached",
	}, []string{"event"})
	FramesCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bounty_overlay_frames_coalesced_total",
		Help: "Navigation events folded into an already scheduled frame",
	})
	EdgeIndicatorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_overlay_edge_indicators_total",
		Help: "Edge indicators produced by layout passes, by kind",
	}, []string{"kind"})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bounty_overlay_sessions_active",
		Help: "Open overlay websocket sessions",
	})

	AggregationDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bounty_aggregation_duration_ms",
		Help:    "Country aggregation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500},
	})
	ClustersCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bounty_clusters_current",
		Help: "Country clusters in the current snapshot",
	})
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_refresh_total",
		Help: "Bounty snapshot refreshes by source",
	}, []string{"source"})
	RefreshFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bounty_refresh_fail_total",
		Help: "Bounty snapshot refreshes that found no source",
	})

	WXMRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bounty_wxm_requests_total",
		Help: "Total WXM API requests",
	})
	WXMFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bounty_wxm_fail_total",
		Help: "Total WXM API failures after retries",
	})
	WXMDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bounty_wxm_duration_ms",
		Help:    "WXM API call duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	ReverseGeoLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_revgeo_lookups_total",
		Help: "Reverse geocoding lookups by result",
	}, []string{"result"})
	ReverseGeoCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_revgeo_cache_total",
		Help: "Reverse geocoding cache lookups by outcome",
	}, []string{"outcome"})
	NominatimRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_nominatim_requests_total",
		Help: "Nominatim reverse requests by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(LayoutPassesTotal)
	prometheus.MustRegister(LayoutDurationUs)
	prometheus.MustRegister(NavigationEventsTotal)
	prometheus.MustRegister(FramesCoalescedTotal)
	prometheus.MustRegister(EdgeIndicatorsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(AggregationDurationMs)
	prometheus.MustRegister(ClustersCurrent)
	prometheus.MustRegister(RefreshTotal)
	prometheus.MustRegister(RefreshFailTotal)
	prometheus.MustRegister(WXMRequestsTotal)
	prometheus.MustRegister(WXMFailTotal)
	prometheus.MustRegister(WXMDurationMs)
	prometheus.MustRegister(ReverseGeoLookupsTotal)
	prometheus.MustRegister(ReverseGeoCacheTotal)
	prometheus.MustRegister(NominatimRequestsTotal)
}

// 文档注释：返回 Prometheus 指标监听器，由主入口挂载到 {API_BASE}/metrics
func Handler() http.Handler { return promhttp.Handler() }
