package interfaces

import (
	"context"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// Stream Host 层的协议流
type Stream interface {
	MuxedStream

	// Protocol 协商出的协议
	Protocol() types.ProtocolID

	// Conn 所属连接
	Conn() Conn
}

// StreamHandler 入站流处理器，处理器负责关闭流
type StreamHandler func(Stream)

// Conn Host 管理的连接
type Conn interface {
	ConnSecurity
	ConnMultiaddrs

	// ID 连接标识（进程内唯一）
	ID() string

	Direction() Direction

	// Relayed 是否经由中继
	Relayed() bool

	// Opened 建立时间
	Opened() time.Time

	// NewStream 在该连接上打开流并协商协议
	NewStream(ctx context.Context, protos ...types.ProtocolID) (Stream, error)

	Close() error
	IsClosed() bool
}

// AddrInfo 节点及其地址
type AddrInfo struct {
	ID    types.PeerID
	Addrs []multiaddr.Multiaddr
}

// Host 网络主机：传输、连接表、协议路由与地址簿
type Host interface {
	ID() types.PeerID
	PrivateKey() crypto.PrivateKey

	// Listen 在给定地址上监听，任一地址失败即返回错误
	Listen(addrs ...multiaddr.Multiaddr) error

	// ListenAddrs 实际监听地址（未展开 0.0.0.0）
	ListenAddrs() []multiaddr.Multiaddr

	// Addrs 对外通告的地址：展开后的监听地址 + 观测地址
	Addrs() []multiaddr.Multiaddr

	// AddObservedAddr 记录对端观测到的本机地址
	AddObservedAddr(addr multiaddr.Multiaddr)

	// AddTransport 运行时注册传输（中继电路传输）
	AddTransport(t Transport) error

	// Connect 确保与节点建立连接
	Connect(ctx context.Context, pi AddrInfo) error

	// DialAddr 拨号地址，对端身份从握手获得
	DialAddr(ctx context.Context, addr multiaddr.Multiaddr) (types.PeerID, error)

	// NewStream 打开到节点的流（必要时拨号）
	NewStream(ctx context.Context, p types.PeerID, protos ...types.ProtocolID) (Stream, error)

	SetStreamHandler(proto types.ProtocolID, handler StreamHandler)
	RemoveStreamHandler(proto types.ProtocolID)
	Protocols() []types.ProtocolID

	// ConnsToPeer 到节点的所有连接
	ConnsToPeer(p types.PeerID) []Conn

	// Peers 已连接节点
	Peers() []types.PeerID

	// Connected 是否已连接
	Connected(p types.PeerID) bool

	// ClosePeer 关闭到节点的所有连接
	ClosePeer(p types.PeerID) error

	// Peerstore 地址簿
	Peerstore() Peerstore

	// Protect 标记节点，空闲回收时跳过
	Protect(p types.PeerID, tag string)
	Unprotect(p types.PeerID, tag string)

	EventBus() EventBus

	Close() error
}

// Peerstore 节点地址簿
type Peerstore interface {
	AddAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration)
	Addrs(p types.PeerID) []multiaddr.Multiaddr
	ClearAddrs(p types.PeerID)
	AddPubKey(p types.PeerID, key crypto.PublicKey) error
	PubKey(p types.PeerID) crypto.PublicKey
	Peers() []types.PeerID
}

// 地址 TTL
const (
	TempAddrTTL       = 2 * time.Minute
	RecentlyConnTTL   = 10 * time.Minute
	DiscoveredAddrTTL = 10 * time.Minute
	PermanentAddrTTL  = 100 * 365 * 24 * time.Hour
)
