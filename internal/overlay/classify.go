package overlay

import "math"

// Clamp：将 v 限制在 [lo, hi]
func Clamp(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }

// ArrowRotation：从 origin 指向 target 的角度（度），0° 朝上，顺时针为正
func ArrowRotation(origin, target ScreenPoint) float64 {
	return math.Atan2(target.Y-origin.Y, target.X-origin.X)*180/math.Pi + 90
}

// Classification：离屏点的贴靠边、锚点与沿边坐标
type Classification struct {
	Side      Side
	Anchor    ScreenPoint
	AlongEdge float64
}

// Classify：判定离屏点应贴靠的边
// 约束：判定顺序 left → right → top → bottom，先命中者生效，角落优先归入左右边；仅对不可见点调用
func Classify(p ScreenPoint, lc LayoutContext) Classification {
	cx := Clamp(p.X, lc.XMin, lc.XMax)
	cy := Clamp(p.Y, lc.YMin, lc.YMax)
	switch {
	case p.X < lc.XMin:
		return Classification{Side: SideLeft, Anchor: ScreenPoint{X: edgeX(SideLeft, lc), Y: cy}, AlongEdge: cy}
	case p.X > lc.XMax:
		return Classification{Side: SideRight, Anchor: ScreenPoint{X: edgeX(SideRight, lc), Y: cy}, AlongEdge: cy}
	case p.Y < lc.YMin:
		return Classification{Side: SideTop, Anchor: ScreenPoint{X: cx, Y: edgeY(SideTop, lc)}, AlongEdge: cx}
	}
	return Classification{Side: SideBottom, Anchor: ScreenPoint{X: cx, Y: edgeY(SideBottom, lc)}, AlongEdge: cx}
}

// edgeX：左右边指示器的固定 x，自边向内偏移 IndicatorOffset
func edgeX(s Side, lc LayoutContext) float64 {
	if s == SideLeft {
		return Clamp(lc.XMin+lc.IndicatorOffset, lc.XMin, lc.XMax)
	}
	return Clamp(lc.XMax-lc.IndicatorOffset, lc.XMin, lc.XMax)
}

func edgeY(s Side, lc LayoutContext) float64 {
	if s == SideTop {
		return Clamp(lc.YMin+lc.IndicatorOffset, lc.YMin, lc.YMax)
	}
	return Clamp(lc.YMax-lc.IndicatorOffset, lc.YMin, lc.YMax)
}

// Split：可见簇生成标签，不可见簇生成原始指示器；每个簇恰好落入其中之一
func Split(countries []ProjectedCountry, lc LayoutContext) ([]LabelPosition, []RawIndicator) {
	labels := make([]LabelPosition, 0, len(countries))
	raws := make([]RawIndicator, 0, len(countries))
	for _, c := range countries {
		if c.Visible {
			labels = append(labels, LabelPosition{
				ID:          c.ID,
				Name:        c.Name,
				Count:       c.Count,
				Position:    c.Screen,
				Highlighted: c.Highlighted,
			})
			continue
		}
		cl := Classify(c.Screen, lc)
		raws = append(raws, RawIndicator{
			ID:        c.ID,
			Code:      c.Code,
			Name:      c.Name,
			Side:      cl.Side,
			Anchor:    cl.Anchor,
			Target:    c.Screen,
			AlongEdge: cl.AlongEdge,
			Rotation:  ArrowRotation(cl.Anchor, c.Screen),
		})
	}
	return labels, raws
}
