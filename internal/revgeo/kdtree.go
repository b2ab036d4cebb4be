package revgeo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// 文档注释：KD-Tree 最近邻（二维经纬）
// 背景：点入多边形未命中（近海、边界缝隙、简化边界）时提供国家级兜底；限制最大半径避免远海误归属。
// 约束：经度/纬度交替分割；仅支持最近一个点查询。
type kdNode struct {
	c  Centroid
	ax int // 0:lon,1:lat
	l  *kdNode
	r  *kdNode
}

func buildKD(cs []Centroid, depth int) *kdNode {
	if len(cs) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(cs) / 2
	selectNth(cs, mid, ax)
	node := &kdNode{c: cs[mid], ax: ax}
	node.l = buildKD(cs[:mid], depth+1)
	node.r = buildKD(cs[mid+1:], depth+1)
	return node
}

// selectNth：原地选出第 n 小元素，左侧不大于、右侧不小于它
func selectNth(a []Centroid, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []Centroid, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if axis(a[j], ax) < axis(pv, ax) {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func axis(c Centroid, ax int) float64 {
	if ax == 0 {
		return c.Lon
	}
	return c.Lat
}

// nearest：最近质心与球面距离（千米）
func nearest(node *kdNode, pt orb.Point) (Centroid, float64) {
	best := Centroid{}
	bestD := math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		d := geo.DistanceHaversine(pt, orb.Point{n.c.Lon, n.c.Lat}) / 1000
		if d < bestD {
			bestD = d
			best = n.c
		}
		key := pt.Lat()
		if n.ax == 0 {
			key = pt.Lon()
		}
		q := axis(n.c, n.ax)
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 分割面到查询点的球面距离小于当前最优时才需检查另一侧
		if planeDistance(pt, n.ax, q) < bestD {
			dfs(second)
		}
	}
	dfs(node)
	return best, bestD
}

// planeDistance：查询点到分割纬线/经线的最短球面距离（千米）
func planeDistance(pt orb.Point, ax int, q float64) float64 {
	r := orb.EarthRadius / 1000
	if ax == 1 {
		return r * math.Abs(pt.Lat()-q) * math.Pi / 180
	}
	// 另一侧区域由分割经线与 180° 经线围成，取两者较近者
	d := math.Abs(pt.Lon() - q)
	if d > 180 {
		d = 360 - d
	}
	d = math.Min(d, 180-math.Abs(pt.Lon()))
	dLon := math.Min(d, 90) * math.Pi / 180
	return r * math.Asin(math.Cos(pt.Lat()*math.Pi/180)*math.Sin(dLon))
}
