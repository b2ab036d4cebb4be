package coordinator

import "sync"

// FrameScheduler：动画帧调度；回调在下一帧执行
type FrameScheduler interface {
	RequestFrame(fn func())
}

// FrameQueue：按帧批量执行的回调队列
// 背景：会话循环在每个帧节拍调用 Flush；测试中手动 Flush 以精确控制帧边界
type FrameQueue struct {
	mu      sync.Mutex
	pending []func()
}

func (q *FrameQueue) RequestFrame(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Flush：执行当前已请求的回调，返回执行数量；回调中新请求的帧留到下一次 Flush
func (q *FrameQueue) Flush() int {
	q.mu.Lock()
	fns := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Len：待执行回调数量
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
