package interfaces

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              流与连接
// ============================================================================

// MuxedStream 多路复用器或 QUIC 提供的原始双向流
type MuxedStream interface {
	io.ReadWriteCloser

	// CloseWrite 半关闭写方向
	CloseWrite() error

	// Reset 异常终止流
	Reset() error

	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// MuxedConn 多路复用连接
type MuxedConn interface {
	// OpenStream 打开出站流
	OpenStream(ctx context.Context) (MuxedStream, error)

	// AcceptStream 接受入站流，连接关闭后返回错误
	AcceptStream() (MuxedStream, error)

	Close() error
	IsClosed() bool
}

// ConnSecurity 连接的身份信息
type ConnSecurity interface {
	LocalPeer() types.PeerID
	RemotePeer() types.PeerID
	RemotePublicKey() crypto.PublicKey
}

// ConnMultiaddrs 连接两端的地址
type ConnMultiaddrs interface {
	LocalMultiaddr() multiaddr.Multiaddr
	RemoteMultiaddr() multiaddr.Multiaddr
}

// CapableConn 已认证且支持多路复用的连接，由传输层交给 Host
type CapableConn interface {
	MuxedConn
	ConnSecurity
	ConnMultiaddrs

	// Transport 返回创建该连接的传输
	Transport() Transport
}

// ============================================================================
//                              传输
// ============================================================================

// Transport 传输层
type Transport interface {
	// Dial 拨号；p 为空时从握手中获取对端身份
	Dial(ctx context.Context, raddr multiaddr.Multiaddr, p types.PeerID) (CapableConn, error)

	// CanDial 是否能拨号该地址
	CanDial(addr multiaddr.Multiaddr) bool

	// CanListen 是否能监听该地址
	CanListen(addr multiaddr.Multiaddr) bool

	// Listen 监听地址
	Listen(laddr multiaddr.Multiaddr) (Listener, error)

	// Name 传输名称，用于日志与指标
	Name() string

	Close() error
}

// Listener 传输监听器
type Listener interface {
	Accept() (CapableConn, error)
	Close() error
	Multiaddr() multiaddr.Multiaddr
}

// ============================================================================
//                              升级
// ============================================================================

// SecureConn 完成安全握手的字节流
type SecureConn interface {
	net.Conn
	ConnSecurity
}

// SecureTransport 安全握手协议
type SecureTransport interface {
	ID() types.ProtocolID

	// SecureInbound 作为响应方握手；p 非空时校验对端身份
	SecureInbound(ctx context.Context, conn net.Conn, p types.PeerID) (SecureConn, error)

	// SecureOutbound 作为发起方握手；p 非空时校验对端身份
	SecureOutbound(ctx context.Context, conn net.Conn, p types.PeerID) (SecureConn, error)
}

// Multiplexer 流多路复用协议
type Multiplexer interface {
	ID() types.ProtocolID

	// NewConn 在安全连接上建立多路复用
	NewConn(conn net.Conn, isServer bool) (MuxedConn, error)
}

// Upgrader 把原始连接升级为 CapableConn
type Upgrader interface {
	Upgrade(ctx context.Context, t Transport, raw net.Conn, dir Direction, p types.PeerID,
		laddr, raddr multiaddr.Multiaddr) (CapableConn, error)
}

// Direction 连接方向
type Direction int

const (
	// DirUnknown 未知
	DirUnknown Direction = iota
	// DirInbound 入站
	DirInbound
	// DirOutbound 出站
	DirOutbound
)

// String 返回方向名称
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
