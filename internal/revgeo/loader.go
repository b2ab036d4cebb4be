package revgeo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bounty-overlay/internal/logger"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

const centroidFile = "country_centroids.json"

var (
	codeKeys = []string{"iso_a2", "ISO_A2", "country_code", "code"}
	nameKeys = []string{"name", "NAME", "ADMIN", "country"}
)

// 文档注释：从数据目录加载国家边界与质心
// 背景：边界来自 Natural Earth/geoBoundaries 导出的 *.geojson；质心文件可选，缺失时由边界面积质心推导。
// 约束：单个文件解析失败只记录告警并跳过；目录不存在返回错误。
func LoadSnapshot(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("revgeo: read dir %s: %w", dir, err)
	}
	snap := &Snapshot{BuiltAt: time.Now()}
	for _, ent := range entries {
		name := ent.Name()
		fp := filepath.Join(dir, name)
		switch {
		case name == centroidFile:
			b, err := os.ReadFile(fp)
			if err != nil {
				logger.L().Warn("revgeo_centroids_read_fail", "path", fp, "err", err)
				continue
			}
			var cs []Centroid
			if err := json.Unmarshal(b, &cs); err != nil {
				logger.L().Warn("revgeo_centroids_parse_fail", "path", fp, "err", err)
				continue
			}
			snap.Centroids = append(snap.Centroids, cs...)
		case strings.HasSuffix(strings.ToLower(name), ".geojson"):
			b, err := os.ReadFile(fp)
			if err != nil {
				logger.L().Warn("revgeo_boundary_read_fail", "path", fp, "err", err)
				continue
			}
			cs, err := ParseBoundaries(b)
			if err != nil {
				logger.L().Warn("revgeo_boundary_parse_fail", "path", fp, "err", err)
				continue
			}
			snap.Countries = append(snap.Countries, cs...)
		}
	}
	if len(snap.Centroids) == 0 {
		snap.Centroids = DeriveCentroids(snap.Countries)
	}
	sort.SliceStable(snap.Countries, func(i, j int) bool { return snap.Countries[i].Code < snap.Countries[j].Code })
	logger.L().Info("revgeo_snapshot_loaded", "dir", dir, "countries", len(snap.Countries), "centroids", len(snap.Centroids))
	return snap, nil
}

// ParseBoundaries：解析国家边界 FeatureCollection
// 约束：缺少国家代码或代码为 "-99" 的要素被忽略；Polygon 统一提升为 MultiPolygon
func ParseBoundaries(b []byte) ([]Country, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("revgeo: decode boundaries: %w", err)
	}
	out := make([]Country, 0, len(fc.Features))
	for _, f := range fc.Features {
		code := strings.ToUpper(strings.TrimSpace(firstProp(f.Properties, codeKeys)))
		if code == "" || code == "-99" {
			continue
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}
		out = append(out, Country{
			Code:     code,
			Name:     firstProp(f.Properties, nameKeys),
			Geometry: mp,
			Bound:    mp.Bound(),
		})
	}
	return out, nil
}

// DeriveCentroids：以面积质心代替缺失的质心文件
func DeriveCentroids(cs []Country) []Centroid {
	out := make([]Centroid, 0, len(cs))
	for _, c := range cs {
		p, area := planar.CentroidArea(c.Geometry)
		if area == 0 {
			p = c.Bound.Center()
		}
		out = append(out, Centroid{Code: c.Code, Name: c.Name, Lat: p.Lat(), Lon: p.Lon()})
	}
	return out
}

func firstProp(p geojson.Properties, keys []string) string {
	for _, k := range keys {
		if v := p.MustString(k, ""); v != "" {
			return v
		}
	}
	return ""
}
