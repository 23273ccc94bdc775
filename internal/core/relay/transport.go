package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// circuitListenAddr 电路监听地址
var circuitListenAddr = multiaddr.MustParse("/p2p-circuit")

// Transport 电路传输
type Transport struct {
	host     pkgif.Host
	upgrader pkgif.Upgrader
	cfg      Config

	mu       sync.Mutex
	listener *listener
	closed   bool
}

var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 创建电路传输
func NewTransport(h pkgif.Host, up pkgif.Upgrader, cfg Config) *Transport {
	return &Transport{host: h, upgrader: up, cfg: cfg}
}

// Start 注册 STOP 处理器
func (t *Transport) Start() {
	t.host.SetStreamHandler(StopProtocol, t.handleStop)
}

func (t *Transport) Name() string { return "relay" }

// CanDial 电路地址
func (t *Transport) CanDial(addr multiaddr.Multiaddr) bool {
	return addr.IsRelayed()
}

// CanListen 仅 /p2p-circuit
func (t *Transport) CanListen(addr multiaddr.Multiaddr) bool {
	return addr.Equal(circuitListenAddr)
}

// Dial 经中继连接目标
//
// raddr 为 <relay 地址>/p2p/<relay>/p2p-circuit，目标由 p 给出。
func (t *Transport) Dial(ctx context.Context, raddr multiaddr.Multiaddr, p types.PeerID) (pkgif.CapableConn, error) {
	if p.IsEmpty() {
		return nil, ErrNoTarget
	}
	relayPart := raddr.DecapsulateCode(multiaddr.P_P2P_CIRCUIT)
	relayAddr, relayID, ok := relayPart.SplitPeer()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddr, raddr)
	}
	if relayID == p || relayID == t.host.ID() {
		return nil, fmt.Errorf("%w: relay is an endpoint: %s", ErrInvalidAddr, raddr)
	}

	if !relayAddr.IsEmpty() {
		t.host.Peerstore().AddAddrs(relayID, []multiaddr.Multiaddr{relayAddr}, pkgif.TempAddrTTL)
	}
	st, err := t.host.NewStream(ctx, relayID, HopProtocol)
	if err != nil {
		return nil, fmt.Errorf("open hop stream to %s: %w", relayID.ShortString(), err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	} else {
		_ = st.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	}
	if err := writeMessage(st, &message{Type: MsgConnect, Peer: &peerRecord{ID: p}}); err != nil {
		_ = st.Reset()
		return nil, err
	}
	resp, err := readMessage(st)
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	if resp.Type != MsgStatus {
		_ = st.Reset()
		return nil, ErrUnexpectedMessage
	}
	if err := statusErr(resp.Status); err != nil {
		_ = st.Close()
		return nil, err
	}
	_ = st.SetDeadline(time.Time{})

	remote := relayPart.Encapsulate(circuitListenAddr)
	nc := &circuitConn{Stream: st, laddr: circuitListenAddr, raddr: remote}
	c, err := t.upgrader.Upgrade(ctx, t, nc, pkgif.DirOutbound, p, circuitListenAddr, remote)
	if err != nil {
		return nil, fmt.Errorf("upgrade circuit via %s: %w", relayID.ShortString(), err)
	}
	log.Debug("电路拨号成功", "relay", relayID.ShortString(), "peer", p.ShortString())
	return c, nil
}

// handleStop 中继转达的入站电路
func (t *Transport) handleStop(st pkgif.Stream) {
	_ = st.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))

	msg, err := readMessage(st)
	if err != nil || msg.Type != MsgConnect || msg.Peer == nil || msg.Peer.ID.IsEmpty() {
		_ = writeMessage(st, &message{Type: MsgStatus, Status: StatusMalformedMessage})
		_ = st.Close()
		return
	}

	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()
	if l == nil {
		_ = writeMessage(st, &message{Type: MsgStatus, Status: StatusConnectionFailed})
		_ = st.Close()
		return
	}

	if err := writeMessage(st, &message{Type: MsgStatus, Status: StatusOK}); err != nil {
		_ = st.Reset()
		return
	}
	_ = st.SetDeadline(time.Time{})

	relayConn := st.Conn()
	remote := relayConn.RemoteMultiaddr().WithPeer(relayConn.RemotePeer()).Encapsulate(circuitListenAddr)
	nc := &circuitConn{Stream: st, laddr: circuitListenAddr, raddr: remote}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
	defer cancel()
	c, err := t.upgrader.Upgrade(ctx, t, nc, pkgif.DirInbound, msg.Peer.ID, circuitListenAddr, remote)
	if err != nil {
		log.Debug("入站电路升级失败", "src", msg.Peer.ID.ShortString(), "err", err)
		return
	}
	l.push(c)
}

// Listen 开始接收入站电路
func (t *Transport) Listen(laddr multiaddr.Multiaddr) (pkgif.Listener, error) {
	if !t.CanListen(laddr) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddr, laddr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.listener != nil {
		return nil, fmt.Errorf("relay: already listening")
	}
	t.listener = &listener{
		t:        t,
		incoming: make(chan pkgif.CapableConn, 16),
		done:     make(chan struct{}),
	}
	return t.listener, nil
}

// Close 关闭监听器并注销 STOP 处理器
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	l := t.listener
	t.mu.Unlock()

	t.host.RemoveStreamHandler(StopProtocol)
	if l != nil {
		return l.Close()
	}
	return nil
}

// listener 电路监听器
type listener struct {
	t        *Transport
	incoming chan pkgif.CapableConn
	done     chan struct{}
	once     sync.Once
}

func (l *listener) Accept() (pkgif.CapableConn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) push(c pkgif.CapableConn) {
	select {
	case l.incoming <- c:
	case <-l.done:
		_ = c.Close()
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.t.mu.Lock()
		if l.t.listener == l {
			l.t.listener = nil
		}
		l.t.mu.Unlock()
	})
	return nil
}

func (l *listener) Multiaddr() multiaddr.Multiaddr { return circuitListenAddr }
