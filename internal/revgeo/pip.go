package revgeo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// contains：包围盒快速过滤后执行点入多面判定（外环命中且不在洞内）
func (c Country) contains(pt orb.Point) bool {
	if !c.Bound.Contains(pt) {
		return false
	}
	return planar.MultiPolygonContains(c.Geometry, pt)
}
