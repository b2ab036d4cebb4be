package overlay

import (
	"math"
	"sort"
	"strconv"

	"bounty-overlay/internal/aggregate"
)

// LayoutIndicators：逐边排序、限量并按最小间距排布指示器
// 背景：贪心推移保证同一边相邻指示器间距不小于 Spacing；拥挤时位置偏离真实方位，箭头仅"大致指向"目标区域。
// 约束：每边超出容量时前 Capacity-1 个单独展示，其余合并为一个 "+N" 指示器；旋转角按最终位置重新计算。
func LayoutIndicators(raws []RawIndicator, lc LayoutContext, clusters []aggregate.Cluster) []EdgeIndicator {
	capacity := lc.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	byID := make(map[string]aggregate.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}

	out := make([]EdgeIndicator, 0, len(raws))
	for _, side := range sideOrder {
		var items []RawIndicator
		for _, r := range raws {
			if r.Side == side {
				items = append(items, r)
			}
		}
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].AlongEdge < items[j].AlongEdge })

		displayed, overflow := items, []RawIndicator(nil)
		if len(items) > capacity {
			displayed, overflow = items[:capacity-1], items[capacity-1:]
		}
		axisMin, axisMax := lc.YMin, lc.YMax
		if !side.Vertical() {
			axisMin, axisMax = lc.XMin, lc.XMax
		}

		last := math.Inf(-1)
		for _, it := range displayed {
			resolved := it.AlongEdge
			if resolved-last < lc.Spacing {
				resolved = last + lc.Spacing
			}
			resolved = Clamp(resolved, axisMin, axisMax)
			pos := it.Anchor
			if side.Vertical() {
				pos.Y = resolved
			} else {
				pos.X = resolved
			}
			out = append(out, EdgeIndicator{
				ID:       it.ID,
				Code:     it.Code,
				Name:     it.Name,
				Side:     side,
				Position: pos,
				Rotation: ArrowRotation(pos, it.Target),
			})
			last = resolved
		}

		if len(overflow) == 0 {
			continue
		}
		members := make([]aggregate.Cluster, 0, len(overflow))
		for _, it := range overflow {
			if c, ok := byID[it.ID]; ok {
				members = append(members, c)
			}
		}
		at := Clamp(last+lc.Spacing, axisMin, axisMax)
		pos := ScreenPoint{X: at, Y: at}
		if side.Vertical() {
			pos.X = edgeX(side, lc)
		} else {
			pos.Y = edgeY(side, lc)
		}
		n := strconv.Itoa(len(overflow))
		out = append(out, EdgeIndicator{
			ID:       string(side) + "-overflow",
			Code:     "+" + n,
			Name:     n + " more",
			Side:     side,
			Position: pos,
			Rotation: ArrowRotation(pos, overflow[0].Target),
			Overflow: members,
		})
	}
	return out
}
