package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.transport.tcp")

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("tcp transport closed")

	// ErrUnsupportedAddr 地址不是 TCP 地址
	ErrUnsupportedAddr = errors.New("tcp: unsupported address")
)

// Config TCP 传输配置
type Config struct {
	// KeepAlive TCP keepalive 周期
	KeepAlive time.Duration

	// HandshakeTimeout 入站连接升级超时
	HandshakeTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		KeepAlive:        15 * time.Second,
		HandshakeTimeout: 15 * time.Second,
	}
}

// Transport TCP 传输
type Transport struct {
	cfg      Config
	upgrader pkgif.Upgrader

	mu        sync.Mutex
	listeners map[*listener]struct{}
	closed    bool
}

var _ pkgif.Transport = (*Transport)(nil)

// New 创建 TCP 传输
func New(up pkgif.Upgrader, cfg Config) *Transport {
	return &Transport{
		cfg:       cfg,
		upgrader:  up,
		listeners: make(map[*listener]struct{}),
	}
}

// Name 传输名称
func (t *Transport) Name() string { return "tcp" }

// CanDial 是否为直连 TCP 地址
func (t *Transport) CanDial(addr multiaddr.Multiaddr) bool {
	a, _, _ := addr.SplitPeer()
	return a.IsTCP() && len(a.Components()) == 2
}

// CanListen 同 CanDial
func (t *Transport) CanListen(addr multiaddr.Multiaddr) bool {
	return t.CanDial(addr)
}

// Dial 拨号并升级
func (t *Transport) Dial(ctx context.Context, raddr multiaddr.Multiaddr, p types.PeerID) (pkgif.CapableConn, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	addr, _, _ := raddr.SplitPeer()
	if !t.CanDial(addr) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddr, raddr)
	}
	network, hostport, err := addr.DialArgs()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{KeepAlive: t.cfg.KeepAlive}
	raw, err := d.DialContext(ctx, network, hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", hostport, err)
	}

	laddr, err := multiaddr.FromNetAddr(raw.LocalAddr())
	if err != nil {
		raw.Close()
		return nil, err
	}
	if actual, err := multiaddr.FromNetAddr(raw.RemoteAddr()); err == nil {
		addr = actual
	}
	return t.upgrader.Upgrade(ctx, t, raw, pkgif.DirOutbound, p, laddr, addr)
}

// Listen 监听地址
func (t *Transport) Listen(laddr multiaddr.Multiaddr) (pkgif.Listener, error) {
	if !t.CanListen(laddr) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddr, laddr)
	}
	network, hostport, err := laddr.DialArgs()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	nl, err := net.Listen(network, hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", hostport, err)
	}
	bound, err := multiaddr.FromNetAddr(nl.Addr())
	if err != nil {
		nl.Close()
		return nil, err
	}

	l := newListener(t, nl, bound)
	t.listeners[l] = struct{}{}
	log.Debug("TCP 监听", "addr", bound.String())
	return l, nil
}

// Close 关闭所有监听器
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ls := make([]*listener, 0, len(t.listeners))
	for l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	var err error
	for _, l := range ls {
		err = multierr.Append(err, l.Close())
	}
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) removeListener(l *listener) {
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}
