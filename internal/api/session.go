package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/coordinator"
	"bounty-overlay/internal/locate"
	"bounty-overlay/internal/logger"
	"bounty-overlay/internal/metrics"
	"bounty-overlay/internal/registry"
	"bounty-overlay/internal/webmap"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64

	defaultWidth  = 1280
	defaultHeight = 800
	focusPadding  = 48
	focusMaxZoom  = 7
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound：客户端消息；center 为 [lon, lat]
type inbound struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Center  *[2]float64 `json:"center,omitempty"`
	Zoom    *float64    `json:"zoom,omitempty"`
	Bearing *float64    `json:"bearing,omitempty"`
	DX      float64     `json:"dx,omitempty"`
	DY      float64     `json:"dy,omitempty"`
	Width   float64     `json:"width,omitempty"`
	Height  float64     `json:"height,omitempty"`
	On      bool        `json:"on,omitempty"`
}

type helloMessage struct {
	Type     string              `json:"type"`
	Session  string              `json:"session"`
	Country  string              `json:"country,omitempty"`
	Camera   webmap.Camera       `json:"camera"`
	Clusters []aggregate.Cluster `json:"clusters"`
}

type layoutMessage struct {
	Type   string        `json:"type"`
	Camera webmap.Camera `json:"camera"`
	coordinator.Snapshot
}

type focusMessage struct {
	Type string     `json:"type"`
	ID   string     `json:"id"`
	BBox [4]float64 `json:"bbox"`
}

type clustersMessage struct {
	Type     string              `json:"type"`
	Clusters []aggregate.Cluster `json:"clusters"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// session：一个 websocket 连接对应的覆盖层会话
// 约束：地图、协调器与帧队列只在 run 所在的协程中访问；读写各占一个协程
type session struct {
	id       string
	conn     *websocket.Conn
	log      *slog.Logger
	reg      *registry.Registry
	m        *webmap.Map
	frames   *coordinator.FrameQueue
	co       *coordinator.Coordinator
	interval time.Duration

	send    chan []byte
	in      chan inbound
	updated chan struct{}
	done    chan struct{}
	// gone：写协程退出后关闭，此后 enqueue 不再阻塞
	gone chan struct{}
}

// serveOverlay：升级连接并运行会话直到客户端断开
func serveOverlay(d Deps, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Debug("overlay_upgrade_error", "err", err)
		return
	}
	cam, country := defaultCamera, ""
	if d.Locator != nil {
		cam, country = d.Locator.InitialCamera(locate.VisitorIP(r))
	}
	q := r.URL.Query()
	s := newSession(d, conn, queryFloat(q.Get("width"), defaultWidth), queryFloat(q.Get("height"), defaultHeight), cam)

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()
	s.log.Info("overlay_session_open", "ip", locate.VisitorIP(r), "country", country)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()
	go s.readPump()

	unsubscribe := d.Registry.Subscribe(func(*registry.Snapshot) {
		select {
		case s.updated <- struct{}{}:
		default:
		}
	})
	s.hello(country)
	s.run()
	unsubscribe()
	s.co.Dispose()
	close(s.done)
	wg.Wait()
	s.log.Info("overlay_session_close")
}

func newSession(d Deps, conn *websocket.Conn, width, height float64, cam webmap.Camera) *session {
	s := &session{
		id:       uuid.NewString(),
		conn:     conn,
		reg:      d.Registry,
		m:        webmap.New(width, height, cam),
		frames:   &coordinator.FrameQueue{},
		interval: d.Overlay.FrameInterval,
		send:     make(chan []byte, sendBuffer),
		in:       make(chan inbound),
		updated:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		gone:     make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = 16 * time.Millisecond
	}
	s.log = logger.L().With("session", s.id)
	s.co = coordinator.New(coordinator.Options{
		Params:      d.Overlay.Params(),
		DrawerWidth: d.Overlay.DrawerWidth,
		Frames:      s.frames,
		Publish:     s.publish,
		OnFocus:     s.focus,
		Logger:      s.log,
	})
	return s
}

// hello：发送会话信息并激活覆盖层
func (s *session) hello(country string) {
	clusters := s.reg.Current().Clusters
	s.enqueue(helloMessage{Type: "hello", Session: s.id, Country: country, Camera: s.m.Camera(), Clusters: clusters})
	s.co.SetMap(s.m)
	s.co.SetClusters(clusters)
	s.co.Activate()
}

// run：会话主循环；客户端消息、注册表更新与帧节拍在此串行处理
func (s *session) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.in:
			if !ok {
				return
			}
			s.apply(msg)
		case <-s.updated:
			clusters := s.reg.Current().Clusters
			s.enqueue(clustersMessage{Type: "clusters", Clusters: clusters})
			s.co.SetClusters(clusters)
		case <-ticker.C:
			if s.frames.Len() > 0 {
				s.frames.Flush()
			}
		}
	}
}

// apply：将客户端消息转换为地图导航或协调器输入
func (s *session) apply(msg inbound) {
	switch msg.Type {
	case "activate", "deactivate":
		s.co.SetActive(msg.Type == "activate")
	case "jump":
		cam := s.m.Camera()
		if msg.Center != nil {
			cam.Center = orb.Point{msg.Center[0], msg.Center[1]}
		}
		if msg.Zoom != nil {
			cam.Zoom = *msg.Zoom
		}
		if msg.Bearing != nil {
			cam.Bearing = *msg.Bearing
		}
		s.m.JumpTo(cam)
	case "pan":
		s.m.PanBy(msg.DX, msg.DY)
	case "zoom":
		if msg.Zoom == nil {
			s.reject("zoom required")
			return
		}
		s.m.SetZoom(*msg.Zoom)
	case "rotate":
		if msg.Bearing == nil {
			s.reject("bearing required")
			return
		}
		s.m.SetBearing(*msg.Bearing)
	case "resize":
		if msg.Width <= 0 || msg.Height <= 0 {
			s.reject("width and height must be positive")
			return
		}
		s.m.Resize(msg.Width, msg.Height)
	case "toggle":
		s.co.Toggle(msg.ID)
	case "clear":
		s.co.ClearSelection()
	case "select_all":
		s.co.SelectAll()
	case "focus":
		s.co.SetFocused(msg.ID)
	case "drawer":
		s.co.SetDrawerOpen(msg.On)
	case "panel":
		s.co.TogglePanel()
	case "compact":
		s.co.SetCompact(msg.On)
	case "click":
		s.co.ClickIndicator(msg.ID)
	case "overflow_select":
		s.co.SelectOverflowCountry(msg.ID)
	case "overflow_close":
		s.co.CloseOverflow()
	default:
		s.reject("unknown message type")
	}
}

// publish：协调器重算后的快照连同当前相机发给客户端
func (s *session) publish(snap coordinator.Snapshot) {
	s.enqueue(layoutMessage{Type: "layout", Camera: s.m.Camera(), Snapshot: snap})
}

// focus：地图飞向国家簇包围盒并高亮该簇
func (s *session) focus(id string) {
	c, ok := s.reg.Current().Cluster(id)
	if !ok {
		s.log.Debug("overlay_focus_unknown", "id", id)
		return
	}
	s.m.FitBounds(c.Bound(), focusPadding)
	if s.m.Camera().Zoom > focusMaxZoom {
		s.m.SetZoom(focusMaxZoom)
	}
	s.co.SetFocused(id)
	s.enqueue(focusMessage{Type: "focus", ID: id, BBox: c.BBox})
}

func (s *session) reject(reason string) {
	s.enqueue(errorMessage{Type: "error", Error: reason})
}

// enqueue：序列化后交给写协程；会话结束后丢弃
func (s *session) enqueue(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("overlay_encode_error", "err", err)
		return
	}
	select {
	case s.send <- b:
	case <-s.done:
	case <-s.gone:
	}
}

// readPump：读取客户端消息转交主循环；连接断开时关闭 in
func (s *session) readPump() {
	defer close(s.in)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn("overlay_read_error", "err", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = inbound{Type: "invalid"}
		}
		select {
		case s.in <- msg:
		case <-s.done:
			return
		}
	}
}

// writePump：唯一的写协程，负责消息下发与心跳
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.gone)
	}()
	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Debug("overlay_write_error", "err", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func queryFloat(s string, def float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
