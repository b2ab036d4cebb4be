// 包 aggregate：按国家聚合赏金单元要素，输出带包围盒与质心的国家簇
package aggregate

import (
	"math"
	"sort"
	"time"

	"bounty-overlay/internal/bounty"
	"bounty-overlay/internal/metrics"

	"github.com/paulmach/orb"
)

const (
	UnknownCode = "UNK"
	UnknownName = "Unknown"
)

// Cluster：一次聚合中每个国家代码对应一条记录
// 约束：Count == len(Indexes)；BBox 为 [minLon, minLat, maxLon, maxLat]
type Cluster struct {
	ID       string       `json:"id"`
	Code     string       `json:"code"`
	Name     string       `json:"name"`
	Count    int          `json:"count"`
	BBox     [4]float64   `json:"bbox"`
	Centroid bounty.Point `json:"centroid"`
	Indexes  []string     `json:"indexes"`
}

// Bound：包围盒转换为 orb.Bound
func (c Cluster) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{c.BBox[0], c.BBox[1]}, Max: orb.Point{c.BBox[2], c.BBox[3]}}
}

type accumulator struct {
	code    string
	name    string
	indexes []string
	bound   orb.Bound
	sumLat  float64
	sumLon  float64
}

// Aggregator：国家聚合器；无状态，每次输入整体重建
type Aggregator struct{}

func New() *Aggregator { return &Aggregator{} }

// Aggregate：按国家代码分组
// 背景：质心取成员中心的算术平均（无中心时取成员包围盒中点），用于标签摆放而非空间精度；下游布局按此调参，不改为多边形并集质心。
// 约束：未解析国家归入 UNK/Unknown；几何异常的要素贡献零包围盒但仍计数；排序为数量降序、名称升序、代码升序。
func (a *Aggregator) Aggregate(features []bounty.Feature) []Cluster {
	t0 := time.Now()
	defer func() { metrics.AggregationDurationMs.Observe(float64(time.Since(t0).Microseconds()) / 1000) }()
	if len(features) == 0 {
		return []Cluster{}
	}
	accs := make(map[string]*accumulator)
	for _, f := range features {
		code := bounty.NormalizeCode(f.CountryCode)
		if code == "" {
			code = UnknownCode
		}
		b := FeatureBound(f)
		acc, ok := accs[code]
		if !ok {
			acc = &accumulator{code: code, bound: b}
			accs[code] = acc
		} else {
			acc.bound = acc.bound.Union(b)
		}
		if f.CountryName != "" && (acc.name == "" || f.CountryName < acc.name) {
			acc.name = f.CountryName
		}
		acc.indexes = append(acc.indexes, f.Index)
		if f.Center != nil && finite(f.Center.Lat, f.Center.Lon) {
			acc.sumLat += f.Center.Lat
			acc.sumLon += f.Center.Lon
		} else {
			mid := b.Center()
			acc.sumLat += mid.Lat()
			acc.sumLon += mid.Lon()
		}
	}

	out := make([]Cluster, 0, len(accs))
	for _, acc := range accs {
		name := acc.name
		if name == "" {
			name = UnknownName
		}
		n := len(acc.indexes)
		sort.Strings(acc.indexes)
		out = append(out, Cluster{
			ID:       acc.code,
			Code:     acc.code,
			Name:     name,
			Count:    n,
			BBox:     [4]float64{acc.bound.Min.Lon(), acc.bound.Min.Lat(), acc.bound.Max.Lon(), acc.bound.Max.Lat()},
			Centroid: bounty.Point{Lat: acc.sumLat / float64(n), Lon: acc.sumLon / float64(n)},
			Indexes:  acc.indexes,
		})
	}
	Sort(out)
	return out
}

// Sort：数量降序，名称升序，代码升序
func Sort(cs []Cluster) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Count != cs[j].Count {
			return cs[i].Count > cs[j].Count
		}
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return cs[i].Code < cs[j].Code
	})
}

// FeatureBound：单个要素的包围盒
// 约束：面取外环全部顶点，点退化为零面积盒；几何无可用坐标时退化到显式中心，仍无则为原点零盒
func FeatureBound(f bounty.Feature) orb.Bound {
	var pts []orb.Point
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		if len(g) > 0 {
			pts = g[0]
		}
	case orb.Ring:
		pts = g
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 {
				pts = append(pts, p[0]...)
			}
		}
	case orb.Point:
		pts = []orb.Point{g}
	}
	if b, ok := boundOf(pts); ok {
		return b
	}
	if f.Center != nil {
		if b, ok := boundOf([]orb.Point{f.Center.Orb()}); ok {
			return b
		}
	}
	return orb.Bound{}
}

// boundOf：跳过非有限坐标；无有效点时 ok 为 false
func boundOf(pts []orb.Point) (orb.Bound, bool) {
	var b orb.Bound
	seeded := false
	for _, p := range pts {
		if !finite(p.Lat(), p.Lon()) {
			continue
		}
		if !seeded {
			b = orb.Bound{Min: p, Max: p}
			seeded = true
			continue
		}
		b = b.Extend(p)
	}
	return b, seeded
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
