package resolver

import (
	"context"
	"sync"
)

// locationUpdate 待解析的设备坐标
// seq 为入队序号：同设备乱序完成的旧任务据此被拒绝应用
type locationUpdate struct {
	DeviceID string
	Lat      float64
	Lng      float64
	seq      uint64
}

// resolveQueue 按 device_id 合并的待解析队列
// 同一设备重复入队时只保留最新坐标（旧的待处理项被顶替丢弃），
// 队列长度因此以设备数为上界。
type resolveQueue struct {
	mu      sync.Mutex
	pending map[string]locationUpdate
	order   []string
	signal  chan struct{}
}

func newResolveQueue() *resolveQueue {
	return &resolveQueue{
		pending: make(map[string]locationUpdate),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue 入队；同设备已有待处理项时原地顶替坐标
func (q *resolveQueue) Enqueue(u locationUpdate) {
	q.mu.Lock()
	if _, ok := q.pending[u.DeviceID]; !ok {
		q.order = append(q.order, u.DeviceID)
	}
	q.pending[u.DeviceID] = u
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue 阻塞出队，ctx 取消时返回 false
func (q *resolveQueue) Dequeue(ctx context.Context) (locationUpdate, bool) {
	for {
		if u, ok := q.pop(); ok {
			return u, true
		}
		select {
		case <-ctx.Done():
			return locationUpdate{}, false
		case <-q.signal:
		}
	}
}

// Len 当前待处理设备数
func (q *resolveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *resolveQueue) pop() (locationUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		u, ok := q.pending[id]
		if !ok {
			continue
		}
		delete(q.pending, id)

		// 还有剩余待处理项时补一个信号，避免其它 worker 空等
		if len(q.order) > 0 {
			select {
			case q.signal <- struct{}{}:
			default:
			}
		}
		return u, true
	}
	return locationUpdate{}, false
}
