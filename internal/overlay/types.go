// 包 overlay：覆盖层几何核心，负责屏幕侧判定、边缘指示器间距排布与溢出合并
package overlay

import "bounty-overlay/internal/aggregate"

// Side：指示器所贴靠的屏幕边
type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideTop    Side = "top"
	SideBottom Side = "bottom"
)

// sideOrder：跨边输出顺序固定，保证结果可复现
var sideOrder = []Side{SideLeft, SideRight, SideTop, SideBottom}

// Vertical：左右边沿 y 轴排布
func (s Side) Vertical() bool { return s == SideLeft || s == SideRight }

// ScreenPoint：容器坐标系中的像素位置
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultCapacity：每条边最多展示的指示器数量（含溢出指示器）
const DefaultCapacity = 3

// LayoutContext：单次布局的可用矩形与间距参数
type LayoutContext struct {
	XMin            float64 `json:"x_min"`
	XMax            float64 `json:"x_max"`
	YMin            float64 `json:"y_min"`
	YMax            float64 `json:"y_max"`
	Spacing         float64 `json:"spacing"`
	IndicatorOffset float64 `json:"indicator_offset"`
	Capacity        int     `json:"capacity"`
}

// Params：布局常量
type Params struct {
	EdgePadding     float64
	IndicatorOffset float64
	Spacing         float64
	Capacity        int
}

// DefaultParams：与地图容器样式一致的默认值
func DefaultParams() Params {
	return Params{EdgePadding: 24, IndicatorOffset: 48, Spacing: 52, Capacity: DefaultCapacity}
}

// NewLayoutContext：由容器尺寸与侧栏偏移构建可用矩形
// 约束：侧栏只收缩左边界；收缩后 xMin 不超过 xMax
func NewLayoutContext(width, height, drawerOffset float64, p Params) LayoutContext {
	xMax := width - p.EdgePadding
	return LayoutContext{
		XMin:            minf(drawerOffset+p.EdgePadding, xMax),
		XMax:            xMax,
		YMin:            p.EdgePadding,
		YMax:            height - p.EdgePadding,
		Spacing:         p.Spacing,
		IndicatorOffset: p.IndicatorOffset,
		Capacity:        p.Capacity,
	}
}

// ProjectedCountry：投影后的国家簇，每次布局重新生成
type ProjectedCountry struct {
	ID          string
	Code        string
	Name        string
	Count       int
	Screen      ScreenPoint
	Visible     bool
	Highlighted bool
}

// RawIndicator：间距排布前的单个离屏指示器
type RawIndicator struct {
	ID        string
	Code      string
	Name      string
	Side      Side
	Anchor    ScreenPoint
	Target    ScreenPoint
	AlongEdge float64
	Rotation  float64
}

// EdgeIndicator：最终输出的边缘指示器；Overflow 非空时为 "+N" 合并指示器
type EdgeIndicator struct {
	ID       string              `json:"id"`
	Code     string              `json:"code"`
	Name     string              `json:"name"`
	Side     Side                `json:"side"`
	Position ScreenPoint         `json:"position"`
	Rotation float64             `json:"rotation"`
	Overflow []aggregate.Cluster `json:"overflow,omitempty"`
}

// IsOverflow：是否为溢出合并指示器
func (e EdgeIndicator) IsOverflow() bool { return e.Overflow != nil }

// LabelPosition：视口内国家簇的标签位置
type LabelPosition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Count       int         `json:"count"`
	Position    ScreenPoint `json:"position"`
	Highlighted bool        `json:"highlighted"`
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
