// 包 coordinator：覆盖层协调器
// 背景：覆盖层随地图导航实时重排。协调器把地图事件、选择变更、侧栏状态等输入统一串行化到单一消息队列，
// 导航类事件合并到下一动画帧，离散变更在本轮消息处理结束后立即重算。
// 约束：
// - 非并发安全；所有调用须来自同一循环（会话 goroutine 或测试）
// - 显式两态：Inactive / ActiveAttached；只有 ActiveAttached 持有地图监听
// - 每次重算整体替换快照，不做增量修改
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"
	"bounty-overlay/internal/overlay"
	"bounty-overlay/internal/webmap"
)

// State：协调器生命周期状态
type State int

const (
	Inactive State = iota
	ActiveAttached
)

func (s State) String() string {
	if s == ActiveAttached {
		return "active_attached"
	}
	return "inactive"
}

// ErrIllegalTransition：非法状态迁移
var ErrIllegalTransition = errors.New("illegal overlay state transition")

// navEvents：激活时订阅的导航事件；resize 由地图面同时触发 move，无需单独订阅
var navEvents = []webmap.Event{webmap.EventMove, webmap.EventZoom, webmap.EventRotate}

// OverflowMenu：点击溢出指示器后展开的国家列表
type OverflowMenu struct {
	Side      overlay.Side        `json:"side"`
	Countries []aggregate.Cluster `json:"countries"`
	X         float64             `json:"x"`
	Y         float64             `json:"y"`
}

// Snapshot：一次重算的完整输出
type Snapshot struct {
	Version    uint64                  `json:"version"`
	Active     bool                    `json:"active"`
	Labels     []overlay.LabelPosition `json:"labels"`
	Indicators []overlay.EdgeIndicator `json:"indicators"`
	Overflow   *OverflowMenu           `json:"overflow"`
	Selected   []string                `json:"selected"`
	Focused    string                  `json:"focused,omitempty"`
	PanelOpen  bool                    `json:"panel_open"`
}

// Options：协调器依赖与回调
type Options struct {
	Params overlay.Params
	// DrawerWidth：桌面端侧栏展开时从左边界扣除的宽度
	DrawerWidth float64
	Frames      FrameScheduler
	// Publish：每次重算后调用，收到的快照归调用方所有
	Publish func(Snapshot)
	// OnFocus：请求地图聚焦到某个国家簇（点击指示器或溢出列表项）
	OnFocus func(id string)
	Logger  *slog.Logger
}

type msgKind int

const (
	msgActivate msgKind = iota
	msgDeactivate
	msgNavigate
	msgFrame
	msgSetMap
	msgSetClusters
	msgToggle
	msgClear
	msgSelectAll
	msgFocus
	msgDrawer
	msgCompact
	msgPanel
	msgClick
	msgOverflowSelect
	msgOverflowClose
)

type message struct {
	kind     msgKind
	event    webmap.Event
	surface  Surface
	clusters []aggregate.Cluster
	id       string
	on       bool
	gen      uint64
}

// Coordinator：覆盖层协调器
type Coordinator struct {
	opts   Options
	log    *slog.Logger
	frames FrameScheduler

	state    State
	surface  Surface
	attached Surface
	handles  map[webmap.Event]webmap.ListenerID

	clusters   []aggregate.Cluster
	sel        selection
	focused    string
	drawerOpen bool
	compact    bool
	panelOpen  bool
	overflow   *OverflowMenu

	queue    []message
	draining bool
	// frameGen：失活或销毁时递增，旧帧回调据此失效
	frameGen       uint64
	frameRequested bool
	disposed       bool

	snap    Snapshot
	version uint64
}

// New：创建处于 Inactive 状态的协调器
func New(opts Options) *Coordinator {
	if opts.Params == (overlay.Params{}) {
		opts.Params = overlay.DefaultParams()
	}
	if opts.Frames == nil {
		opts.Frames = &FrameQueue{}
	}
	l := opts.Logger
	if l == nil {
		l = logger.L()
	}
	c := &Coordinator{opts: opts, log: l, frames: opts.Frames, sel: selection{}}
	c.snap = c.emptySnapshot()
	return c
}

// State：当前状态
func (c *Coordinator) State() State { return c.state }

// Snapshot：最近一次发布的快照
func (c *Coordinator) Snapshot() Snapshot { return c.snap }

// Clusters：当前已知国家簇
func (c *Coordinator) Clusters() []aggregate.Cluster { return c.clusters }

// Selected：已选簇，按簇列表顺序
func (c *Coordinator) Selected() []aggregate.Cluster { return c.sel.pick(c.clusters) }

// IsSelected：某个簇是否已选
func (c *Coordinator) IsSelected(id string) bool { return c.sel.has(id) }

// PanelOpen：国家列表面板是否展开
func (c *Coordinator) PanelOpen() bool { return c.panelOpen }

func (c *Coordinator) Activate()        { c.dispatch(message{kind: msgActivate}) }
func (c *Coordinator) Deactivate()      { c.dispatch(message{kind: msgDeactivate}) }
func (c *Coordinator) SetMap(s Surface) { c.dispatch(message{kind: msgSetMap, surface: s}) }
func (c *Coordinator) SetClusters(cs []aggregate.Cluster) {
	c.dispatch(message{kind: msgSetClusters, clusters: cs})
}
func (c *Coordinator) Toggle(id string)         { c.dispatch(message{kind: msgToggle, id: id}) }
func (c *Coordinator) ClearSelection()          { c.dispatch(message{kind: msgClear}) }
func (c *Coordinator) SelectAll()               { c.dispatch(message{kind: msgSelectAll}) }
func (c *Coordinator) SetFocused(id string)     { c.dispatch(message{kind: msgFocus, id: id}) }
func (c *Coordinator) SetDrawerOpen(open bool)  { c.dispatch(message{kind: msgDrawer, on: open}) }
func (c *Coordinator) SetCompact(compact bool)  { c.dispatch(message{kind: msgCompact, on: compact}) }
func (c *Coordinator) TogglePanel()             { c.dispatch(message{kind: msgPanel}) }
func (c *Coordinator) ClickIndicator(id string) { c.dispatch(message{kind: msgClick, id: id}) }
func (c *Coordinator) SelectOverflowCountry(id string) {
	c.dispatch(message{kind: msgOverflowSelect, id: id})
}
func (c *Coordinator) CloseOverflow() { c.dispatch(message{kind: msgOverflowClose}) }

// SetActive：按布尔值激活或失活
func (c *Coordinator) SetActive(on bool) {
	if on {
		c.Activate()
		return
	}
	c.Deactivate()
}

// Dispose：销毁协调器；无论当前状态如何都解除地图监听，之后的输入全部忽略
func (c *Coordinator) Dispose() {
	if c.disposed {
		return
	}
	c.detach()
	c.state = Inactive
	c.disposed = true
	c.frameGen++
	c.frameRequested = false
	c.queue = nil
	c.log.Debug("overlay_disposed")
}

// dispatch：入队并在未处于处理中时排空队列
// 约束：处理过程中产生的新消息（如聚焦回调触发的地图移动）追加到同一队列，按序处理
func (c *Coordinator) dispatch(m message) {
	if c.disposed {
		return
	}
	c.queue = append(c.queue, m)
	if c.draining {
		return
	}
	c.draining = true
	recompute := false
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if c.handle(next) {
			recompute = true
		}
		if c.disposed {
			break
		}
	}
	c.draining = false
	if recompute && !c.disposed {
		c.recompute()
	}
}

// handle：处理单条消息，返回是否需要在本轮结束时重算
func (c *Coordinator) handle(m message) bool {
	switch m.kind {
	case msgActivate:
		if c.state == ActiveAttached {
			return false
		}
		if err := c.transition(ActiveAttached); err != nil {
			c.log.Warn("overlay_transition_fail", "err", err)
			return false
		}
		c.attach(c.surface)
		return true
	case msgDeactivate:
		if c.state == Inactive {
			return false
		}
		if err := c.transition(Inactive); err != nil {
			c.log.Warn("overlay_transition_fail", "err", err)
			return false
		}
		c.detach()
		c.frameGen++
		c.frameRequested = false
		c.overflow = nil
		return true
	case msgNavigate:
		return c.navigate(m.event)
	case msgFrame:
		if m.gen != c.frameGen {
			return false
		}
		c.frameRequested = false
		return c.state == ActiveAttached
	case msgSetMap:
		if m.surface == c.surface {
			return false
		}
		c.surface = m.surface
		if c.state != ActiveAttached {
			return false
		}
		c.detach()
		c.attach(m.surface)
		return true
	case msgSetClusters:
		c.clusters = m.clusters
		return c.state == ActiveAttached
	case msgToggle:
		c.sel.toggle(m.id)
		return c.state == ActiveAttached
	case msgClear:
		c.sel = selection{}
		c.overflow = nil
		return c.state == ActiveAttached
	case msgSelectAll:
		for _, cl := range c.clusters {
			c.sel[cl.ID] = struct{}{}
		}
		return c.state == ActiveAttached
	case msgFocus:
		c.focused = m.id
		return c.state == ActiveAttached
	case msgDrawer:
		c.drawerOpen = m.on
		return c.state == ActiveAttached
	case msgCompact:
		c.compact = m.on
		return c.state == ActiveAttached
	case msgPanel:
		c.panelOpen = !c.panelOpen
		return c.state == ActiveAttached
	case msgClick:
		return c.click(m.id)
	case msgOverflowSelect:
		c.overflow = nil
		c.requestFocus(m.id)
		return c.state == ActiveAttached
	case msgOverflowClose:
		if c.overflow == nil {
			return false
		}
		c.overflow = nil
		return c.state == ActiveAttached
	}
	return false
}

// transition：仅允许 Inactive ↔ ActiveAttached
func (c *Coordinator) transition(to State) error {
	if c.state == to {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.state, to)
	}
	c.log.Debug("overlay_transition", "from", c.state.String(), "to", to.String())
	c.state = to
	return nil
}

// navigate：导航事件只置位一次帧请求，同一帧内的后续事件被合并
func (c *Coordinator) navigate(evt webmap.Event) bool {
	if c.state != ActiveAttached {
		return false
	}
	metrics.NavigationEventsTotal.WithLabelValues(string(evt)).Inc()
	if c.frameRequested {
		metrics.FramesCoalescedTotal.Inc()
		return false
	}
	c.frameRequested = true
	gen := c.frameGen
	c.frames.RequestFrame(func() { c.dispatch(message{kind: msgFrame, gen: gen}) })
	return false
}

// click：溢出指示器展开列表；普通指示器请求聚焦
func (c *Coordinator) click(id string) bool {
	for _, ind := range c.snap.Indicators {
		if ind.ID != id {
			continue
		}
		if ind.IsOverflow() {
			c.overflow = &OverflowMenu{Side: ind.Side, Countries: ind.Overflow, X: ind.Position.X, Y: ind.Position.Y}
			return c.state == ActiveAttached
		}
		c.requestFocus(ind.ID)
		return false
	}
	c.log.Debug("overlay_click_unknown", "id", id)
	return false
}

func (c *Coordinator) requestFocus(id string) {
	if id == "" || c.opts.OnFocus == nil {
		return
	}
	c.opts.OnFocus(id)
}

func (c *Coordinator) attach(s Surface) {
	if s == nil || c.attached != nil {
		return
	}
	c.handles = make(map[webmap.Event]webmap.ListenerID, len(navEvents))
	for _, evt := range navEvents {
		c.handles[evt] = s.On(evt, func() { c.dispatch(message{kind: msgNavigate, event: evt}) })
	}
	c.attached = s
}

func (c *Coordinator) detach() {
	if c.attached == nil {
		return
	}
	for evt, id := range c.handles {
		c.attached.Off(evt, id)
	}
	c.handles = nil
	c.attached = nil
}

// drawerOffset：侧栏仅在展开且非紧凑布局时占用左侧空间
func (c *Coordinator) drawerOffset() float64 {
	if c.drawerOpen && !c.compact {
		return c.opts.DrawerWidth
	}
	return 0
}

func (c *Coordinator) emptySnapshot() Snapshot {
	return Snapshot{
		Version:    c.version,
		Labels:     []overlay.LabelPosition{},
		Indicators: []overlay.EdgeIndicator{},
		Selected:   c.sel.ids(),
		Focused:    c.focused,
		PanelOpen:  c.panelOpen,
	}
}

// recompute：重新生成并发布快照
// 约束：失活或无地图时发布空的标签与指示器
func (c *Coordinator) recompute() {
	start := time.Now()
	c.version++
	snap := c.emptySnapshot()
	if c.state == ActiveAttached {
		snap.Active = true
		snap.Overflow = c.overflow
		if c.surface != nil {
			w, h := c.surface.ContainerSize()
			lc := overlay.NewLayoutContext(w, h, c.drawerOffset(), c.opts.Params)
			snap.Labels, snap.Indicators = Layout(c.surface, c.sel.pick(c.clusters), c.focused, lc)
		}
	}
	c.snap = snap

	metrics.LayoutPassesTotal.Inc()
	metrics.LayoutDurationUs.Observe(float64(time.Since(start).Microseconds()))
	for _, ind := range snap.Indicators {
		kind := "single"
		if ind.IsOverflow() {
			kind = "overflow"
		}
		metrics.EdgeIndicatorsTotal.WithLabelValues(kind).Inc()
	}
	c.log.Debug("overlay_recompute", "version", snap.Version, "labels", len(snap.Labels), "indicators", len(snap.Indicators))
	if c.opts.Publish != nil {
		c.opts.Publish(snap)
	}
}
