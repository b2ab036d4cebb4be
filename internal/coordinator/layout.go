package coordinator

import (
	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/overlay"
	"bounty-overlay/internal/webmap"

	"github.com/paulmach/orb"
)

// Surface：协调器依赖的地图面能力
// 背景：生产中由会话持有的 webmap.Map 提供；测试可替换为任意实现
type Surface interface {
	Project(lon, lat float64) overlay.ScreenPoint
	ViewportBounds() orb.Bound
	ContainerSize() (float64, float64)
	On(evt webmap.Event, fn func()) webmap.ListenerID
	Off(evt webmap.Event, id webmap.ListenerID) bool
}

// Layout：对一组已选簇执行一次完整布局（投影、可见性划分、分边间距与溢出合并）
// 约束：纯函数，同一输入得到同一输出；focused 对应的标签标记为高亮
func Layout(s Surface, selected []aggregate.Cluster, focused string, lc overlay.LayoutContext) ([]overlay.LabelPosition, []overlay.EdgeIndicator) {
	bounds := s.ViewportBounds()
	projected := make([]overlay.ProjectedCountry, 0, len(selected))
	for _, c := range selected {
		projected = append(projected, overlay.ProjectedCountry{
			ID:          c.ID,
			Code:        c.Code,
			Name:        c.Name,
			Count:       c.Count,
			Screen:      s.Project(c.Centroid.Lon, c.Centroid.Lat),
			Visible:     bounds.Contains(c.Centroid.Orb()),
			Highlighted: focused != "" && c.ID == focused,
		})
	}
	labels, raws := overlay.Split(projected, lc)
	return labels, overlay.LayoutIndicators(raws, lc, selected)
}
