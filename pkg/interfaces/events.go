package interfaces

import (
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              连接事件
// ============================================================================

// EvtPeerConnected 与节点建立了新连接
type EvtPeerConnected struct {
	Peer      types.PeerID
	Conn      Conn
	Direction Direction
	Relayed   bool
}

// EvtPeerDisconnected 与节点的最后一条连接已关闭
type EvtPeerDisconnected struct {
	Peer types.PeerID
}

// EvtLocalAddrsUpdated 本机地址集合变化
type EvtLocalAddrsUpdated struct {
	Current []multiaddr.Multiaddr
	Added   []multiaddr.Multiaddr
}

// ============================================================================
//                              发现事件
// ============================================================================

// EvtPeerDiscovered 发现新节点
type EvtPeerDiscovered struct {
	Peer   types.PeerID
	Addrs  []multiaddr.Multiaddr
	Source string
}

// EvtPeerExpired 发现记录过期
type EvtPeerExpired struct {
	Peer   types.PeerID
	Source string
}

// ============================================================================
//                              协议事件
// ============================================================================

// EvtIdentifyCompleted 完成与节点的信息交换
type EvtIdentifyCompleted struct {
	Peer types.PeerID
	Info IdentifyInfo
}

// EvtGossipMessage 通过校验的 pubsub 消息
type EvtGossipMessage struct {
	Topic string
	ID    string

	// Source 发布者（已验证签名）
	Source types.PeerID

	// Propagator 转发给本机的节点
	Propagator types.PeerID

	Data  []byte
	SeqNo uint64
}
