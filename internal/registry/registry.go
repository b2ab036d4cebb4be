// 包 registry：当前赏金快照（蜂窝、要素、国家簇）的进程内注册表
// 背景：HTTP 处理与覆盖层会话并发读取，刷新任务偶尔整体替换；读路径不加锁。
package registry

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bounty-overlay/internal/aggregate"
	"bounty-overlay/internal/bounty"
)

// Snapshot：一次刷新的完整结果，发布后只读
type Snapshot struct {
	Cells    []bounty.Cell
	Clusters []aggregate.Cluster
	Source   string
	BuiltAt  time.Time
}

// Build：由蜂窝记录生成国家簇
func Build(source string, cells []bounty.Cell) *Snapshot {
	return &Snapshot{
		Cells:    cells,
		Clusters: aggregate.New().Aggregate(bounty.FromCells(cells)),
		Source:   source,
		BuiltAt:  time.Now(),
	}
}

// Cluster：按 ID 查找国家簇
func (s *Snapshot) Cluster(id string) (aggregate.Cluster, bool) {
	for _, c := range s.Clusters {
		if c.ID == id {
			return c, true
		}
	}
	return aggregate.Cluster{}, false
}

// Registry：atomic.Value 承载当前快照，写入后立即对后续读取生效
type Registry struct {
	v atomic.Value

	mu   sync.Mutex
	next int
	subs map[int]func(*Snapshot)
}

// New：以空快照初始化
func New() *Registry {
	r := &Registry{subs: make(map[int]func(*Snapshot))}
	r.v.Store(&Snapshot{Clusters: []aggregate.Cluster{}})
	return r
}

// Current：当前快照，永不为 nil
func (r *Registry) Current() *Snapshot { return r.v.Load().(*Snapshot) }

// Swap：替换快照并同步通知订阅者
// 约束：订阅回调不得阻塞；需要跨 goroutine 传递时由回调自行做非阻塞投递
func (r *Registry) Swap(s *Snapshot) {
	if s == nil {
		return
	}
	r.v.Store(s)
	r.mu.Lock()
	fns := make([]func(*Snapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe：注册快照变更回调，返回取消函数
func (r *Registry) Subscribe(fn func(*Snapshot)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Search：按名称或代码做大小写不敏感的子串匹配
// 约束：空查询返回全部；结果保持输入顺序
func Search(clusters []aggregate.Cluster, q string) []aggregate.Cluster {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]aggregate.Cluster, 0, len(clusters))
	for _, c := range clusters {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Code), q) {
			out = append(out, c)
		}
	}
	return out
}
