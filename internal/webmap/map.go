// 包 webmap：无界面的 Web Mercator 地图面
// 背景：覆盖层会话在服务端重放客户端的平移/缩放/旋转，需要与前端一致的投影与视口包围盒；同时作为协调器测试的地图替身。
// 约束：非并发安全，由持有它的会话循环独占；不处理世界副本（经度不回绕）。
package webmap

import (
	"math"

	"bounty-overlay/internal/overlay"

	"github.com/paulmach/orb"
)

// Event：地图导航事件
type Event string

const (
	EventMove   Event = "move"
	EventZoom   Event = "zoom"
	EventRotate Event = "rotate"
	EventResize Event = "resize"
)

// ListenerID：On 返回的注册句柄，用于 Off
type ListenerID uint64

const (
	tileSize = 512.0
	maxLat   = 85.051129
	MinZoom  = 0.0
	MaxZoom  = 22.0
)

type listener struct {
	id ListenerID
	fn func()
}

// Camera：相机状态
type Camera struct {
	Center  orb.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bearing float64   `json:"bearing"`
}

// Map：地图面
type Map struct {
	cam       Camera
	width     float64
	height    float64
	nextID    ListenerID
	listeners map[Event][]listener
}

// New：以容器尺寸与初始相机创建地图
func New(width, height float64, cam Camera) *Map {
	m := &Map{width: width, height: height, listeners: make(map[Event][]listener)}
	m.cam = normalize(cam)
	return m
}

func normalize(c Camera) Camera {
	c.Zoom = overlay.Clamp(c.Zoom, MinZoom, MaxZoom)
	c.Center = orb.Point{c.Center.Lon(), overlay.Clamp(c.Center.Lat(), -maxLat, maxLat)}
	b := math.Mod(c.Bearing, 360)
	if b > 180 {
		b -= 360
	} else if b <= -180 {
		b += 360
	}
	c.Bearing = b
	return c
}

// Camera：当前相机
func (m *Map) Camera() Camera { return m.cam }

// ContainerSize：容器像素尺寸
func (m *Map) ContainerSize() (float64, float64) { return m.width, m.height }

func (m *Map) worldSize() float64 { return tileSize * math.Pow(2, m.cam.Zoom) }

// world：经纬度到世界像素
func world(lon, lat, ws float64) (float64, float64) {
	lat = overlay.Clamp(lat, -maxLat, maxLat)
	x := (180 + lon) / 360 * ws
	y := (180 - 180/math.Pi*math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))) * ws / 360
	return x, y
}

func unworld(x, y, ws float64) (float64, float64) {
	lon := x/ws*360 - 180
	y2 := 180 - y*360/ws
	lat := 360/math.Pi*math.Atan(math.Exp(y2*math.Pi/180)) - 90
	return lon, lat
}

// Project：经纬度投影到容器坐标
func (m *Map) Project(lon, lat float64) overlay.ScreenPoint {
	ws := m.worldSize()
	px, py := world(lon, lat, ws)
	cx, cy := world(m.cam.Center.Lon(), m.cam.Center.Lat(), ws)
	dx, dy := px-cx, py-cy
	th := -m.cam.Bearing * math.Pi / 180
	sin, cos := math.Sincos(th)
	return overlay.ScreenPoint{
		X: dx*cos - dy*sin + m.width/2,
		Y: dx*sin + dy*cos + m.height/2,
	}
}

// Unproject：容器坐标反投影到经纬度
func (m *Map) Unproject(p overlay.ScreenPoint) orb.Point {
	ws := m.worldSize()
	dx, dy := p.X-m.width/2, p.Y-m.height/2
	th := m.cam.Bearing * math.Pi / 180
	sin, cos := math.Sincos(th)
	rx := dx*cos - dy*sin
	ry := dx*sin + dy*cos
	cx, cy := world(m.cam.Center.Lon(), m.cam.Center.Lat(), ws)
	lon, lat := unworld(cx+rx, cy+ry, ws)
	return orb.Point{lon, lat}
}

// ViewportBounds：四角反投影后的轴对齐包围盒（旋转时大于可见区域）
func (m *Map) ViewportBounds() orb.Bound {
	corners := []overlay.ScreenPoint{{X: 0, Y: 0}, {X: m.width, Y: 0}, {X: m.width, Y: m.height}, {X: 0, Y: m.height}}
	first := m.Unproject(corners[0])
	b := orb.Bound{Min: first, Max: first}
	for _, c := range corners[1:] {
		b = b.Extend(m.Unproject(c))
	}
	return b
}

// On：注册事件监听，返回注销句柄
func (m *Map) On(evt Event, fn func()) ListenerID {
	m.nextID++
	m.listeners[evt] = append(m.listeners[evt], listener{id: m.nextID, fn: fn})
	return m.nextID
}

// Off：注销监听；句柄不存在时返回 false
func (m *Map) Off(evt Event, id ListenerID) bool {
	ls := m.listeners[evt]
	for i, l := range ls {
		if l.id == id {
			m.listeners[evt] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount：某事件当前监听数
func (m *Map) ListenerCount(evt Event) int { return len(m.listeners[evt]) }

func (m *Map) fire(evts ...Event) {
	for _, evt := range evts {
		ls := append([]listener(nil), m.listeners[evt]...)
		for _, l := range ls {
			l.fn()
		}
	}
}

// JumpTo：直接设置相机，按变化触发 move/zoom/rotate
func (m *Map) JumpTo(cam Camera) {
	prev := m.cam
	m.cam = normalize(cam)
	evts := []Event{EventMove}
	if m.cam.Zoom != prev.Zoom {
		evts = append(evts, EventZoom)
	}
	if m.cam.Bearing != prev.Bearing {
		evts = append(evts, EventRotate)
	}
	m.fire(evts...)
}

// PanBy：按像素平移
func (m *Map) PanBy(dx, dy float64) {
	c := m.Unproject(overlay.ScreenPoint{X: m.width/2 + dx, Y: m.height/2 + dy})
	m.cam = normalize(Camera{Center: c, Zoom: m.cam.Zoom, Bearing: m.cam.Bearing})
	m.fire(EventMove)
}

// SetZoom：设置缩放级别
func (m *Map) SetZoom(z float64) {
	cam := m.cam
	cam.Zoom = z
	m.JumpTo(cam)
}

// SetBearing：设置旋转角（度）
func (m *Map) SetBearing(b float64) {
	cam := m.cam
	cam.Bearing = b
	m.JumpTo(cam)
}

// Resize：容器尺寸变化
func (m *Map) Resize(width, height float64) {
	m.width, m.height = width, height
	m.fire(EventResize, EventMove)
}

// FitBounds：将包围盒置于视口中央并选择可完整容纳的最大缩放，旋转归零
func (m *Map) FitBounds(b orb.Bound, padding float64) {
	ws0 := tileSize
	x0, y0 := world(b.Min.Lon(), b.Max.Lat(), ws0)
	x1, y1 := world(b.Max.Lon(), b.Min.Lat(), ws0)
	w := math.Max(m.width-2*padding, 1)
	h := math.Max(m.height-2*padding, 1)
	spanX, spanY := math.Max(x1-x0, 1e-9), math.Max(y1-y0, 1e-9)
	z := math.Log2(math.Min(w/spanX, h/spanY))
	lon, lat := unworld((x0+x1)/2, (y0+y1)/2, ws0)
	m.JumpTo(Camera{Center: orb.Point{lon, lat}, Zoom: z, Bearing: 0})
}
