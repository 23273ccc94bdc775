package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.transport.quic")

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("quic transport closed")

	// ErrUnsupportedAddr 地址不是 QUIC 地址
	ErrUnsupportedAddr = errors.New("quic: unsupported address")

	// ErrPeerMismatch 对端身份与期望不符
	ErrPeerMismatch = errors.New("quic: peer id mismatch")

	// ErrStreamReset 流被重置
	ErrStreamReset = errors.New("quic: stream reset")
)

// Config QUIC 传输配置
type Config struct {
	// MaxIdleTimeout 连接空闲超时
	MaxIdleTimeout time.Duration

	// KeepAlivePeriod 保活间隔
	KeepAlivePeriod time.Duration

	// HandshakeIdleTimeout 握手超时
	HandshakeIdleTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      15 * time.Second,
		HandshakeIdleTimeout: 10 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxIdleTimeout <= 0 || c.HandshakeIdleTimeout <= 0 {
		return errors.New("quic: timeouts must be positive")
	}
	if c.KeepAlivePeriod >= c.MaxIdleTimeout {
		return errors.New("quic: keepalive must be shorter than idle timeout")
	}
	return nil
}

// socket 一个 UDP socket 及其 QUIC 传输
type socket struct {
	udp   *net.UDPConn
	qt    *quic.Transport
	laddr multiaddr.Multiaddr
	v6    bool
}

// Transport QUIC 传输
type Transport struct {
	identity pkgif.Identity
	tlsConf  *tls.Config
	qconf    *quic.Config

	mu      sync.Mutex
	sockets []*socket
	dialers map[bool]*socket // 无监听 socket 时按地址族创建的临时 socket
	closed  bool
}

var _ pkgif.Transport = (*Transport)(nil)

// New 创建 QUIC 传输
func New(id pkgif.Identity, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tc, err := tlsConfig(id)
	if err != nil {
		return nil, err
	}
	return &Transport{
		identity: id,
		tlsConf:  tc,
		qconf: &quic.Config{
			MaxIdleTimeout:       cfg.MaxIdleTimeout,
			KeepAlivePeriod:      cfg.KeepAlivePeriod,
			HandshakeIdleTimeout: cfg.HandshakeIdleTimeout,
		},
		dialers: make(map[bool]*socket),
	}, nil
}

// Name 传输名称
func (t *Transport) Name() string { return "quic" }

// CanDial 是否为直连 QUIC 地址
func (t *Transport) CanDial(addr multiaddr.Multiaddr) bool {
	a, _, _ := addr.SplitPeer()
	return a.IsQUIC() && len(a.Components()) == 3
}

// CanListen 同 CanDial
func (t *Transport) CanListen(addr multiaddr.Multiaddr) bool {
	return t.CanDial(addr)
}

// Listen 绑定 UDP socket 并接受 QUIC 连接
func (t *Transport) Listen(laddr multiaddr.Multiaddr) (pkgif.Listener, error) {
	if !t.CanListen(laddr) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddr, laddr)
	}
	sock, err := t.bind(laddr)
	if err != nil {
		return nil, err
	}

	ql, err := sock.qt.Listen(t.tlsConf, t.qconf)
	if err != nil {
		t.dropSocket(sock)
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	log.Debug("QUIC 监听", "addr", sock.laddr.String())
	return newListener(t, sock, ql), nil
}

func (t *Transport) bind(laddr multiaddr.Multiaddr) (*socket, error) {
	network, hostport, err := laddr.DialArgs()
	if err != nil {
		return nil, err
	}
	ua, err := net.ResolveUDPAddr(network, hostport)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	udp, err := net.ListenUDP(network, ua)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", hostport, err)
	}
	bound, err := multiaddr.FromNetAddr(udp.LocalAddr())
	if err != nil {
		udp.Close()
		return nil, err
	}
	ip, _ := bound.IP()
	sock := &socket{
		udp:   udp,
		qt:    &quic.Transport{Conn: udp},
		laddr: bound,
		v6:    ip.Is6() && !ip.Is4In6(),
	}
	t.sockets = append(t.sockets, sock)
	return sock, nil
}

func (t *Transport) dropSocket(sock *socket) {
	t.mu.Lock()
	for i, s := range t.sockets {
		if s == sock {
			t.sockets = append(t.sockets[:i], t.sockets[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	_ = sock.qt.Close()
	_ = sock.udp.Close()
}

// dialSocket 选择出站 socket：优先同族的监听 socket
func (t *Transport) dialSocket(v6 bool) (*socket, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	for _, s := range t.sockets {
		if s.v6 == v6 {
			t.mu.Unlock()
			return s, nil
		}
	}
	if s, ok := t.dialers[v6]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	network, host := "udp4", "0.0.0.0:0"
	if v6 {
		network, host = "udp6", "[::]:0"
	}
	ua, err := net.ResolveUDPAddr(network, host)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP(network, ua)
	if err != nil {
		return nil, err
	}
	sock := &socket{udp: udp, qt: &quic.Transport{Conn: udp}, v6: v6}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.dialers[v6]; ok {
		_ = sock.qt.Close()
		_ = udp.Close()
		return existing, nil
	}
	t.dialers[v6] = sock
	return sock, nil
}

// Dial 拨号；p 非空时校验对端身份
func (t *Transport) Dial(ctx context.Context, raddr multiaddr.Multiaddr, p types.PeerID) (pkgif.CapableConn, error) {
	addr, _, _ := raddr.SplitPeer()
	if !t.CanDial(addr) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddr, raddr)
	}
	network, hostport, err := addr.DialArgs()
	if err != nil {
		return nil, err
	}
	ua, err := net.ResolveUDPAddr(network, hostport)
	if err != nil {
		return nil, err
	}

	sock, err := t.dialSocket(ua.IP.To4() == nil)
	if err != nil {
		return nil, err
	}

	qc, err := sock.qt.Dial(ctx, ua, t.tlsConf, t.qconf)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", hostport, err)
	}
	c, err := newConn(t, qc)
	if err != nil {
		_ = qc.CloseWithError(errCodeMismatch, "bad certificate")
		return nil, err
	}
	if !p.IsEmpty() && c.remote != p {
		_ = qc.CloseWithError(errCodeMismatch, "peer id mismatch")
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerMismatch, p.ShortString(), c.remote.ShortString())
	}
	return c, nil
}

// Close 关闭所有 socket
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	socks := append([]*socket(nil), t.sockets...)
	for _, s := range t.dialers {
		socks = append(socks, s)
	}
	t.sockets = nil
	t.dialers = nil
	t.mu.Unlock()

	var err error
	for _, s := range socks {
		err = multierr.Append(err, s.qt.Close())
		_ = s.udp.Close()
	}
	return err
}
