package revgeo

import (
	"context"
	"errors"
	"math"
	"time"

	"bounty-overlay/internal/metrics"

	"github.com/paulmach/orb"
)

// ErrInvalidCoordinate：坐标非有限值或超出经纬度范围
var ErrInvalidCoordinate = errors.New("revgeo: invalid coordinate")

// Options：缓存与兜底参数
type Options struct {
	CacheSize   int
	CacheTTL    time.Duration
	MaxRadiusKm float64
}

// Geocoder：查询编排（包围盒过滤 → 点入多面 → 最近质心兜底）
type Geocoder struct {
	snap        *Snapshot
	kd          *kdNode
	cache       *LRU
	maxRadiusKm float64
}

// New：构建查询器；snap 可为空，此时所有查询返回 ErrNotFound
func New(snap *Snapshot, opts Options) *Geocoder {
	if snap == nil {
		snap = &Snapshot{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = 300
	}
	var kd *kdNode
	if len(snap.Centroids) > 0 {
		kd = buildKD(append([]Centroid(nil), snap.Centroids...), 0)
	}
	return &Geocoder{snap: snap, kd: kd, cache: NewLRU(opts.CacheSize, opts.CacheTTL), maxRadiusKm: opts.MaxRadiusKm}
}

// Name：归属来源名
func (g *Geocoder) Name() string { return "revgeo" }

// Size：已加载国家数
func (g *Geocoder) Size() int { return len(g.snap.Countries) }

// Lookup：坐标 → 国家
// 返回：多边形命中置信度 0.9；最近邻 0.6，超过半径一半降为 0.5
func (g *Geocoder) Lookup(lat, lon float64) (Result, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Result{}, ErrInvalidCoordinate
	}
	key := encodeGeohash(lat, lon, 6)
	if v, ok := g.cache.Get(key); ok {
		metrics.ReverseGeoLookupsTotal.WithLabelValues("cache").Inc()
		return v, nil
	}
	pt := orb.Point{lon, lat}
	for _, c := range g.snap.Countries {
		if c.contains(pt) {
			r := Result{Code: c.Code, Name: c.Name, Confidence: 0.9}
			g.cache.Set(key, r)
			metrics.ReverseGeoLookupsTotal.WithLabelValues("polygon").Inc()
			return r, nil
		}
	}
	if g.kd != nil {
		c, d := nearest(g.kd, pt)
		if d <= g.maxRadiusKm {
			conf := 0.6
			if d > g.maxRadiusKm/2 {
				conf = 0.5
			}
			r := Result{Code: c.Code, Name: c.Name, Confidence: conf, Approx: true}
			g.cache.Set(key, r)
			metrics.ReverseGeoLookupsTotal.WithLabelValues("nearest").Inc()
			return r, nil
		}
	}
	metrics.ReverseGeoLookupsTotal.WithLabelValues("miss").Inc()
	return Result{}, ErrNotFound
}

// ReverseCountry：归属链的查询入口
func (g *Geocoder) ReverseCountry(_ context.Context, lat, lon float64) (string, string, error) {
	r, err := g.Lookup(lat, lon)
	if err != nil {
		return "", "", err
	}
	return r.Code, r.Name, nil
}
