package retoro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/retoro/go-retoro/pkg/types"
)

// DefaultCommandQueueSize 命令队列容量
const DefaultCommandQueueSize = 1024

// ============================================================================
//                              命令
// ============================================================================

// Command 提交给运行时的意图；只能是本包定义的变体
type Command interface {
	// Kind 命令名称，用于日志与指标
	Kind() string
	isCommand()
}

// Target 消息目标：ChannelTarget 或 DirectTarget
type Target interface {
	isTarget()
}

// ChannelTarget 发送到频道
type ChannelTarget struct {
	Name string
}

// DirectTarget 发送给单个节点（未实现）
type DirectTarget struct {
	Peer types.PeerID
}

func (ChannelTarget) isTarget() {}
func (DirectTarget) isTarget()  {}

// SendMessage 发送一条消息
type SendMessage struct {
	Content string
	Target  Target
}

// Ping 探测节点（未实现）
type Ping struct {
	Peer types.PeerID
}

// JoinChannel 加入频道（未实现）
type JoinChannel struct {
	Channel string
}

// LeaveChannel 离开频道（未实现）
type LeaveChannel struct {
	Channel string
}

// AddFriend 添加好友（未实现）
type AddFriend struct {
	Peer types.PeerID
}

// RemoveFriend 移除好友（未实现）
type RemoveFriend struct {
	Peer types.PeerID
}

// Shutdown 停止运行时
type Shutdown struct{}

func (SendMessage) Kind() string  { return "send_message" }
func (Ping) Kind() string         { return "ping" }
func (JoinChannel) Kind() string  { return "join_channel" }
func (LeaveChannel) Kind() string { return "leave_channel" }
func (AddFriend) Kind() string    { return "add_friend" }
func (RemoveFriend) Kind() string { return "remove_friend" }
func (Shutdown) Kind() string     { return "shutdown" }

func (SendMessage) isCommand()  {}
func (Ping) isCommand()         {}
func (JoinChannel) isCommand()  {}
func (LeaveChannel) isCommand() {}
func (AddFriend) isCommand()    {}
func (RemoveFriend) isCommand() {}
func (Shutdown) isCommand()     {}

// ============================================================================
//                              命令队列
// ============================================================================

// commandQueue 多生产者单消费者的有界队列
//
// 队列本身从不关闭；运行时停止通过 stopped 通知生产者，最后一个生产者
// 句柄关闭通过 idle 通知运行时。
type commandQueue struct {
	ch      chan Command
	stopped chan struct{}
	stop    sync.Once

	mu        sync.Mutex
	producers int
	idle      chan struct{}
	idleOnce  sync.Once
}

func newCommandQueue(size int) *commandQueue {
	return &commandQueue{
		ch:      make(chan Command, size),
		stopped: make(chan struct{}),
		idle:    make(chan struct{}),
	}
}

func (q *commandQueue) acquire() {
	q.mu.Lock()
	q.producers++
	q.mu.Unlock()
}

func (q *commandQueue) release() {
	q.mu.Lock()
	q.producers--
	last := q.producers == 0
	q.mu.Unlock()
	if last {
		q.idleOnce.Do(func() { close(q.idle) })
	}
}

// close 标记运行时已停止
func (q *commandQueue) close() {
	q.stop.Do(func() { close(q.stopped) })
}

func (q *commandQueue) isStopped() bool {
	select {
	case <-q.stopped:
		return true
	default:
		return false
	}
}

// CommandHandle 命令生产者句柄，可并发使用
//
// 每个句柄独立计数；所有句柄关闭后，运行时处理完已入队的命令即停止。
type CommandHandle struct {
	q      *commandQueue
	closed atomic.Bool
}

func newCommandHandle(q *commandQueue) *CommandHandle {
	q.acquire()
	return &CommandHandle{q: q}
}

// Clone 创建新的独立句柄
func (h *CommandHandle) Clone() *CommandHandle {
	return newCommandHandle(h.q)
}

// Send 入队命令；队列满时阻塞，直到有空位、ctx 取消或运行时停止
func (h *CommandHandle) Send(ctx context.Context, cmd Command) error {
	if err := h.check(); err != nil {
		return err
	}
	select {
	case h.q.ch <- cmd:
		return nil
	case <-h.q.stopped:
		return fmt.Errorf("%w: node stopped", ErrTransmission)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend 非阻塞入队，队列满时返回 ErrQueueFull
func (h *CommandHandle) TrySend(cmd Command) error {
	if err := h.check(); err != nil {
		return err
	}
	select {
	case h.q.ch <- cmd:
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrTransmission, ErrQueueFull)
	}
}

func (h *CommandHandle) check() error {
	if h.closed.Load() {
		return fmt.Errorf("%w: handle closed", ErrTransmission)
	}
	if h.q.isStopped() {
		return fmt.Errorf("%w: node stopped", ErrTransmission)
	}
	return nil
}

// Close 关闭句柄，可重复调用
func (h *CommandHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.q.release()
	return nil
}
