package retoro

import (
	"context"

	"github.com/retoro/go-retoro/internal/core/eventbus"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// DefaultEventBufferSize 每个订阅者的事件缓冲容量
const DefaultEventBufferSize = 1024

// ============================================================================
//                              事件
// ============================================================================

// Event 运行时发布的观测；只能是本包定义的变体
type Event interface {
	// Kind 事件名称，用于日志与指标
	Kind() string
	isEvent()
}

// Source 消息来源：ChannelSource 或 DirectSource
type Source interface {
	isSource()
}

// ChannelSource 经频道收到
type ChannelSource struct {
	Name string

	// Propagator 把消息转发给本机的节点
	Propagator types.PeerID
}

// DirectSource 节点直接发送（目前不会出现）
type DirectSource struct {
	Peer types.PeerID
}

func (ChannelSource) isSource() {}
func (DirectSource) isSource()  {}

// DiscoveredNode 局域网发现了新节点
type DiscoveredNode struct {
	Peer  types.PeerID
	Addrs []multiaddr.Multiaddr
}

// ReceivedMessage 收到一条消息
type ReceivedMessage struct {
	Message Message
	Source  Source
}

// JoinedChannel 已加入频道
type JoinedChannel struct {
	Channel string
}

// LeftChannel 已离开频道
type LeftChannel struct {
	Channel string
}

// AddedFriend 已添加好友
type AddedFriend struct {
	Peer types.PeerID
}

// RemovedFriend 已移除好友
type RemovedFriend struct {
	Peer types.PeerID
}

// ErrorEvent 运行期的局部失败，运行时继续工作
type ErrorEvent struct {
	Err error
}

func (DiscoveredNode) Kind() string  { return "discovered_node" }
func (ReceivedMessage) Kind() string { return "received_message" }
func (JoinedChannel) Kind() string   { return "joined_channel" }
func (LeftChannel) Kind() string     { return "left_channel" }
func (AddedFriend) Kind() string     { return "added_friend" }
func (RemovedFriend) Kind() string   { return "removed_friend" }
func (ErrorEvent) Kind() string      { return "error" }

func (DiscoveredNode) isEvent()  {}
func (ReceivedMessage) isEvent() {}
func (JoinedChannel) isEvent()   {}
func (LeftChannel) isEvent()     {}
func (AddedFriend) isEvent()     {}
func (RemovedFriend) isEvent()   {}
func (ErrorEvent) isEvent()      {}

// ============================================================================
//                              订阅
// ============================================================================

// EventSubscription 独立的事件订阅者
//
// 只能看到订阅之后发布的事件。缓冲区满时最旧的事件被覆盖，下一次
// Recv 返回 *LaggedError 报告丢弃数，之后继续返回保留的事件。
type EventSubscription struct {
	r *eventbus.Receiver[Event]
}

// Recv 阻塞读取下一个事件
//
// 节点停止且缓冲读完后返回 ErrEventsClosed。
func (s *EventSubscription) Recv(ctx context.Context) (Event, error) {
	return s.r.Recv(ctx)
}

// TryRecv 非阻塞读取
//
// 没有事件时返回 ErrNoEvent；丢弃通知与 ErrEventsClosed 同 Recv。
func (s *EventSubscription) TryRecv() (Event, error) {
	return s.r.TryRecv()
}

// Dropped 累计被丢弃的事件数
func (s *EventSubscription) Dropped() uint64 {
	return s.r.Dropped()
}

// Close 取消订阅
func (s *EventSubscription) Close() {
	s.r.Close()
}
