package bounty

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Ring：将 [lat, lon] 对转换为闭合的 orb 环
func (c Cell) Ring() orb.Ring {
	ring := make(orb.Ring, 0, len(c.Polygon)+1)
	for _, p := range c.Polygon {
		ring = append(ring, orb.Point{p[1], p[0]})
	}
	if n := len(ring); n > 0 && ring[0] != ring[n-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// FromCells：单元记录转换为面要素
func FromCells(cells []Cell) []Feature {
	out := make([]Feature, 0, len(cells))
	for i := range cells {
		c := cells[i]
		center := c.Center
		out = append(out, Feature{
			Index:       c.Index,
			Center:      &center,
			Geometry:    orb.Polygon{c.Ring()},
			CountryCode: c.CountryCode,
			CountryName: c.CountryName,
		})
	}
	return out
}

// ParseFeatureCollection：解析 GeoJSON 要素集合
// 约束：center 属性为 {lat, lon}；国家代码兼容 country_code 与 countryCode 两种写法
func ParseFeatureCollection(b []byte) ([]Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}
	out := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		ft := Feature{Geometry: f.Geometry}
		ft.Index = f.Properties.MustString("index", "")
		ft.CountryCode = f.Properties.MustString("country_code", "")
		if ft.CountryCode == "" {
			ft.CountryCode = f.Properties.MustString("countryCode", "")
		}
		ft.CountryName = f.Properties.MustString("country_name", "")
		if c, ok := parseCenter(f.Properties["center"]); ok {
			ft.Center = &c
		}
		out = append(out, ft)
	}
	return out, nil
}

func parseCenter(v interface{}) (Point, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Point{}, false
	}
	lat, ok1 := m["lat"].(float64)
	lon, ok2 := m["lon"].(float64)
	if !ok1 || !ok2 {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

func cellProperties(c Cell) geojson.Properties {
	return geojson.Properties{
		"index":                       c.Index,
		"center":                      map[string]interface{}{"lat": c.Center.Lat, "lon": c.Center.Lon},
		"devices_accepted":            c.DevicesAccepted,
		"total_rewards":               c.TotalRewards,
		"activation_period_start":     c.ActivationPeriodStart,
		"activation_period_end":       c.ActivationPeriodEnd,
		"distribution_period_in_days": c.DistributionPeriodInDays,
		"country_code":                c.CountryCode,
		"country_name":                c.CountryName,
	}
}

// CellsCollection：面要素集合，供地图填充图层渲染
func CellsCollection(cells []Cell) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range cells {
		f := geojson.NewFeature(orb.Polygon{c.Ring()})
		f.Properties = cellProperties(c)
		fc.Append(f)
	}
	return fc
}

// HeatmapCollection：中心点要素集合，供热力图层渲染
func HeatmapCollection(cells []Cell) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range cells {
		f := geojson.NewFeature(c.Center.Orb())
		f.Properties = cellProperties(c)
		fc.Append(f)
	}
	return fc
}

// FormatNearbyLabel：附近单元数量的提示文案；赏金图层数量为 0 时不显示
func FormatNearbyLabel(count int, isBounty bool) (string, bool) {
	if isBounty {
		if count <= 0 {
			return "", false
		}
		return fmt.Sprintf("Active cell bounties: %d", count), true
	}
	return fmt.Sprintf("%d active stations in this area", count), true
}

// NormalizeCode：国家代码去空白并转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
