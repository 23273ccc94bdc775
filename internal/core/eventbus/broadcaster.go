package eventbus

import (
	"context"
	"sync"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Broadcaster
// ════════════════════════════════════════════════════════════════════════════

// Broadcaster 多订阅者广播器
//
// 每个订阅者持有独立的环形缓冲区。Publish 从不阻塞：缓冲区满时覆盖最旧的
// 事件并累加该订阅者的落后计数。订阅者只能看到订阅之后发布的事件。
type Broadcaster[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Receiver[T]]struct{}
	closed   bool
	onDrop   func(n uint64)
}

// NewBroadcaster 创建广播器，capacity 为每个订阅者的缓冲区容量
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster[T]{
		capacity: capacity,
		subs:     make(map[*Receiver[T]]struct{}),
	}
}

// OnDrop 设置丢弃回调（用于指标），须在发布前设置
func (b *Broadcaster[T]) OnDrop(fn func(n uint64)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe 注册新订阅者；广播器已关闭时返回的订阅者立即结束
func (b *Broadcaster[T]) Subscribe() *Receiver[T] {
	r := &Receiver[T]{
		owner:  b,
		buf:    make([]T, b.capacity),
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		r.closed = true
		return r
	}
	b.subs[r] = struct{}{}
	return r
}

// Publish 向所有订阅者发布事件，返回订阅者数量
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	var dropped uint64
	for r := range b.subs {
		if r.push(v) {
			dropped++
		}
	}
	if dropped > 0 && b.onDrop != nil {
		b.onDrop(dropped)
	}
	return len(b.subs)
}

// Subscribers 当前订阅者数量
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭广播器；订阅者读完剩余缓冲后收到 ErrClosed
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for r := range b.subs {
		r.finish()
	}
	b.subs = nil
}

func (b *Broadcaster[T]) remove(r *Receiver[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, r)
}

// ════════════════════════════════════════════════════════════════════════════
//                              Receiver
// ════════════════════════════════════════════════════════════════════════════

// Receiver 广播订阅者
type Receiver[T any] struct {
	owner *Broadcaster[T]

	mu      sync.Mutex
	buf     []T
	head    int
	size    int
	lagged  uint64 // 尚未报告的丢弃数
	dropped uint64 // 累计丢弃数
	closed  bool
	notify  chan struct{}
}

// push 写入事件，缓冲区满时覆盖最旧的一条并返回 true
func (r *Receiver[T]) push(v T) bool {
	r.mu.Lock()
	overflow := false
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.lagged++
		r.dropped++
		overflow = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.mu.Unlock()

	r.signal()
	return overflow
}

func (r *Receiver[T]) finish() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

func (r *Receiver[T]) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Recv 读取下一个事件
//
// 若自上次读取后有事件被丢弃，先返回一次 *LaggedError，之后从保留的
// 最旧事件继续。广播器关闭且缓冲读完后返回 ErrClosed。
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		r.mu.Lock()
		v, err := r.pollLocked()
		r.mu.Unlock()
		if err != ErrEmpty {
			return v, err
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv 非阻塞读取，没有事件时返回 ErrEmpty
//
// 丢弃通知与 ErrClosed 的语义同 Recv。
func (r *Receiver[T]) TryRecv() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollLocked()
}

func (r *Receiver[T]) pollLocked() (T, error) {
	var zero T
	if r.lagged > 0 {
		n := r.lagged
		r.lagged = 0
		return zero, &LaggedError{Dropped: n}
	}
	if r.size > 0 {
		v := r.buf[r.head]
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		return v, nil
	}
	if r.closed {
		return zero, ErrClosed
	}
	return zero, ErrEmpty
}

// Len 缓冲中的事件数
func (r *Receiver[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped 累计丢弃数
func (r *Receiver[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close 取消订阅并释放缓冲
func (r *Receiver[T]) Close() {
	r.owner.remove(r)
	r.mu.Lock()
	r.closed = true
	r.size = 0
	r.buf = nil
	r.mu.Unlock()
	r.signal()
}
