package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	mss "github.com/multiformats/go-multistream"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.host")

// Reporter 连接指标上报
type Reporter interface {
	ConnOpened(transport string, dir pkgif.Direction)
	ConnClosed(transport string)
}

// Option Host 选项
type Option func(*Host)

// WithClock 替换时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithReporter 设置连接指标上报
func WithReporter(r Reporter) Option {
	return func(h *Host) { h.reporter = r }
}

// WithTransports 初始传输
func WithTransports(ts ...pkgif.Transport) Option {
	return func(h *Host) { h.transports = append(h.transports, ts...) }
}

// ============================================================================
//                              Host
// ============================================================================

// Host 网络主机
type Host struct {
	cfg      Config
	identity pkgif.Identity
	bus      pkgif.EventBus
	clock    clock.Clock
	reporter Reporter
	ps       *peerstore

	mux        *mss.MultistreamMuxer[types.ProtocolID]
	handlersMu sync.RWMutex
	handlers   map[types.ProtocolID]pkgif.StreamHandler

	mu         sync.RWMutex
	transports []pkgif.Transport
	listeners  []pkgif.Listener
	conns      map[types.PeerID][]*conn
	protected  map[types.PeerID]map[string]struct{}

	addrs *addrBook
	dials singleflight.Group

	emitConnected    pkgif.Emitter
	emitDisconnected pkgif.Emitter
	emitAddrs        pkgif.Emitter

	ctx    context.Context
	cancel context.CancelFunc
	refs   sync.WaitGroup
	closed atomic.Bool
}

var _ pkgif.Host = (*Host)(nil)

// New 创建 Host
func New(id pkgif.Identity, bus pkgif.EventBus, cfg Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:       cfg,
		identity:  id,
		bus:       bus,
		clock:     clock.New(),
		mux:       mss.NewMultistreamMuxer[types.ProtocolID](),
		handlers:  make(map[types.ProtocolID]pkgif.StreamHandler),
		conns:     make(map[types.PeerID][]*conn),
		protected: make(map[types.PeerID]map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.addrs = newAddrBook(h.clock)

	ps, err := newPeerstore(cfg.PeerstoreSize, h.clock)
	if err != nil {
		cancel()
		return nil, err
	}
	h.ps = ps
	_ = h.ps.AddPubKey(id.ID(), id.PublicKey())

	if err := h.initEmitters(); err != nil {
		cancel()
		return nil, err
	}
	return h, nil
}

func (h *Host) initEmitters() error {
	var err error
	if h.emitConnected, err = h.bus.Emitter(new(pkgif.EvtPeerConnected)); err != nil {
		return err
	}
	if h.emitDisconnected, err = h.bus.Emitter(new(pkgif.EvtPeerDisconnected)); err != nil {
		return err
	}
	h.emitAddrs, err = h.bus.Emitter(new(pkgif.EvtLocalAddrsUpdated), pkgif.Stateful())
	return err
}

// Start 启动空闲回收
func (h *Host) Start() {
	h.refs.Add(1)
	go h.reapLoop()
}

func (h *Host) ID() types.PeerID              { return h.identity.ID() }
func (h *Host) PrivateKey() crypto.PrivateKey { return h.identity.PrivateKey() }
func (h *Host) Peerstore() pkgif.Peerstore    { return h.ps }
func (h *Host) EventBus() pkgif.EventBus      { return h.bus }

// ============================================================================
//                              传输与监听
// ============================================================================

// AddTransport 注册传输，新传输优先于已有传输匹配
func (h *Host) AddTransport(t pkgif.Transport) error {
	if h.closed.Load() {
		return ErrClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cur := range h.transports {
		if cur.Name() == t.Name() {
			return fmt.Errorf("transport %q already registered", t.Name())
		}
	}
	h.transports = append([]pkgif.Transport{t}, h.transports...)
	return nil
}

func (h *Host) dialTransport(addr multiaddr.Multiaddr) pkgif.Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.transports {
		if t.CanDial(addr) {
			return t
		}
	}
	return nil
}

func (h *Host) listenTransport(addr multiaddr.Multiaddr) pkgif.Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.transports {
		if t.CanListen(addr) {
			return t
		}
	}
	return nil
}

// Listen 并行绑定每个地址，任一失败时关闭已绑定的监听器
func (h *Host) Listen(addrs ...multiaddr.Multiaddr) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if len(addrs) == 0 {
		return ErrNoListenAddrs
	}

	bound := make([]pkgif.Listener, len(addrs))
	var g errgroup.Group
	for i, addr := range addrs {
		t := h.listenTransport(addr)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrNoTransport, addr)
		}
		g.Go(func() error {
			l, err := t.Listen(addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			bound[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range bound {
			if l != nil {
				_ = l.Close()
			}
		}
		return err
	}

	h.mu.Lock()
	h.listeners = append(h.listeners, bound...)
	h.mu.Unlock()

	for _, l := range bound {
		log.Info("开始监听", "addr", l.Multiaddr())
		h.refs.Add(1)
		go h.acceptLoop(l)
	}

	h.addrsChanged()
	return nil
}

func (h *Host) acceptLoop(l pkgif.Listener) {
	defer h.refs.Done()
	for {
		c, err := l.Accept()
		if err != nil {
			if !h.closed.Load() {
				log.Debug("监听器退出", "addr", l.Multiaddr(), "err", err)
			}
			return
		}
		if _, err := h.addConn(c, pkgif.DirInbound); err != nil {
			log.Debug("拒绝入站连接", "remote", c.RemoteMultiaddr(), "err", err)
		}
	}
}

// ListenAddrs 监听器地址
func (h *Host) ListenAddrs() []multiaddr.Multiaddr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]multiaddr.Multiaddr, 0, len(h.listeners))
	for _, l := range h.listeners {
		out = append(out, l.Multiaddr())
	}
	return out
}

// ============================================================================
//                              连接表
// ============================================================================

// addConn 登记连接，每条新连接发布 EvtPeerConnected
func (h *Host) addConn(c pkgif.CapableConn, dir pkgif.Direction) (*conn, error) {
	p := c.RemotePeer()
	if h.closed.Load() {
		_ = c.Close()
		return nil, ErrClosed
	}
	if p == h.ID() {
		_ = c.Close()
		return nil, ErrDialSelf
	}

	hc := newConn(h, c, dir)

	h.mu.Lock()
	h.conns[p] = append(h.conns[p], hc)
	h.mu.Unlock()

	if key := c.RemotePublicKey(); key != nil {
		if err := h.ps.AddPubKey(p, key); err != nil {
			log.Warn("对端公钥与身份不符", "peer", p.ShortString(), "err", err)
		}
	}
	if dir == pkgif.DirOutbound {
		h.ps.AddAddrs(p, []multiaddr.Multiaddr{c.RemoteMultiaddr()}, pkgif.RecentlyConnTTL)
	}
	if h.reporter != nil {
		h.reporter.ConnOpened(c.Transport().Name(), dir)
	}

	log.Debug("连接建立", "conn", hc)
	_ = h.emitConnected.Emit(pkgif.EvtPeerConnected{
		Peer:      p,
		Conn:      hc,
		Direction: dir,
		Relayed:   hc.Relayed(),
	})

	h.refs.Add(1)
	go func() {
		defer h.refs.Done()
		hc.acceptStreams()
	}()
	return hc, nil
}

// removeConn 移除连接，最后一条连接断开时发布 EvtPeerDisconnected
func (h *Host) removeConn(c *conn) {
	_ = c.Close()
	p := c.RemotePeer()

	h.mu.Lock()
	cs := h.conns[p]
	found := false
	for i, cur := range cs {
		if cur == c {
			cs = append(cs[:i], cs[i+1:]...)
			found = true
			break
		}
	}
	last := found && len(cs) == 0
	if len(cs) == 0 {
		delete(h.conns, p)
	} else {
		h.conns[p] = cs
	}
	h.mu.Unlock()

	if !found {
		return
	}
	if h.reporter != nil {
		h.reporter.ConnClosed(c.Transport().Name())
	}
	log.Debug("连接关闭", "conn", c)
	if last {
		_ = h.emitDisconnected.Emit(pkgif.EvtPeerDisconnected{Peer: p})
	}
}

// ConnsToPeer 到节点的连接，直连在前
func (h *Host) ConnsToPeer(p types.PeerID) []pkgif.Conn {
	h.mu.RLock()
	cs := append([]*conn(nil), h.conns[p]...)
	h.mu.RUnlock()

	sortConns(cs)
	out := make([]pkgif.Conn, 0, len(cs))
	for _, c := range cs {
		out = append(out, c)
	}
	return out
}

// sortConns 直连优先，其次较新的连接
func sortConns(cs []*conn) {
	sort.SliceStable(cs, func(i, j int) bool {
		if ri, rj := cs[i].Relayed(), cs[j].Relayed(); ri != rj {
			return !ri
		}
		return cs[i].opened.After(cs[j].opened)
	})
}

func (h *Host) bestConn(p types.PeerID) *conn {
	h.mu.RLock()
	cs := append([]*conn(nil), h.conns[p]...)
	h.mu.RUnlock()

	sortConns(cs)
	for _, c := range cs {
		if !c.IsClosed() {
			return c
		}
	}
	return nil
}

func (h *Host) Peers() []types.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.PeerID, 0, len(h.conns))
	for p := range h.conns {
		out = append(out, p)
	}
	return out
}

func (h *Host) Connected(p types.PeerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[p]) > 0
}

// ClosePeer 关闭到节点的所有连接
func (h *Host) ClosePeer(p types.PeerID) error {
	h.mu.RLock()
	cs := append([]*conn(nil), h.conns[p]...)
	h.mu.RUnlock()

	var err error
	for _, c := range cs {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Protect 标记节点
func (h *Host) Protect(p types.PeerID, tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tags, ok := h.protected[p]
	if !ok {
		tags = make(map[string]struct{})
		h.protected[p] = tags
	}
	tags[tag] = struct{}{}
}

func (h *Host) Unprotect(p types.PeerID, tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tags := h.protected[p]
	delete(tags, tag)
	if len(tags) == 0 {
		delete(h.protected, p)
	}
}

// ============================================================================
//                              拨号
// ============================================================================

// Connect 确保与节点建立连接
func (h *Host) Connect(ctx context.Context, pi pkgif.AddrInfo) error {
	if pi.ID == h.ID() {
		return ErrDialSelf
	}
	h.ps.AddAddrs(pi.ID, pi.Addrs, pkgif.TempAddrTTL)
	if h.Connected(pi.ID) {
		return nil
	}
	_, err := h.dialPeer(ctx, pi.ID)
	return err
}

// dialPeer 对同一节点的并发拨号合并为一次
func (h *Host) dialPeer(ctx context.Context, p types.PeerID) (*conn, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	ch := h.dials.DoChan(p.String(), func() (any, error) {
		if c := h.bestConn(p); c != nil {
			return c, nil
		}
		return h.dialAddrs(p)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dialAddrs 依次尝试地址簿中的地址，直连在前
func (h *Host) dialAddrs(p types.PeerID) (*conn, error) {
	addrs := h.ps.Addrs(p)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, p.ShortString())
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return !addrs[i].IsRelayed() && addrs[j].IsRelayed()
	})

	var errs error
	for _, addr := range addrs {
		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DialTimeout)
		c, err := h.dialAddr(ctx, addr, p)
		cancel()
		if err == nil {
			return c, nil
		}
		log.Debug("拨号失败", "peer", p.ShortString(), "addr", addr, "err", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrAllDialsFailed, p.ShortString(), errs)
}

func (h *Host) dialAddr(ctx context.Context, addr multiaddr.Multiaddr, p types.PeerID) (*conn, error) {
	t := h.dialTransport(addr)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, addr)
	}
	c, err := t.Dial(ctx, addr, p)
	if err != nil {
		return nil, err
	}
	if !p.IsEmpty() && c.RemotePeer() != p {
		_ = c.Close()
		return nil, fmt.Errorf("dialed %s, got %s", p.ShortString(), c.RemotePeer().ShortString())
	}
	return h.addConn(c, pkgif.DirOutbound)
}

// DialAddr 拨号单个地址，返回握手得到的对端身份
func (h *Host) DialAddr(ctx context.Context, addr multiaddr.Multiaddr) (types.PeerID, error) {
	if h.closed.Load() {
		return types.EmptyPeerID, ErrClosed
	}
	raw, p, _ := addr.SplitPeer()
	if p == h.ID() {
		return types.EmptyPeerID, ErrDialSelf
	}
	// 只有中继连接时仍然拨号直连地址
	if c := h.bestConn(p); !p.IsEmpty() && c != nil && (!c.Relayed() || raw.IsRelayed()) {
		return p, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
	defer cancel()
	c, err := h.dialAddr(ctx, raw, p)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return c.RemotePeer(), nil
}

// ============================================================================
//                              流
// ============================================================================

// NewStream 打开到节点的流，未连接时先拨号
func (h *Host) NewStream(ctx context.Context, p types.PeerID, protos ...types.ProtocolID) (pkgif.Stream, error) {
	c := h.bestConn(p)
	if c == nil {
		var err error
		if c, err = h.dialPeer(ctx, p); err != nil {
			return nil, err
		}
	}
	return c.NewStream(ctx, protos...)
}

func (h *Host) SetStreamHandler(proto types.ProtocolID, handler pkgif.StreamHandler) {
	h.handlersMu.Lock()
	h.handlers[proto] = handler
	h.handlersMu.Unlock()
	h.mux.AddHandler(proto, nil)
}

func (h *Host) RemoveStreamHandler(proto types.ProtocolID) {
	h.mux.RemoveHandler(proto)
	h.handlersMu.Lock()
	delete(h.handlers, proto)
	h.handlersMu.Unlock()
}

func (h *Host) Protocols() []types.ProtocolID {
	return h.mux.Protocols()
}

// handleInbound 协商入站流并交给处理器
func (h *Host) handleInbound(c *conn, ms pkgif.MuxedStream) {
	_ = ms.SetDeadline(h.clock.Now().Add(h.cfg.NegotiationTimeout))
	proto, _, err := h.mux.Negotiate(ms)
	if err != nil {
		log.Debug("入站流协商失败", "peer", c.RemotePeer().ShortString(), "err", err)
		_ = ms.Reset()
		return
	}
	_ = ms.SetDeadline(time.Time{})

	h.handlersMu.RLock()
	handler := h.handlers[proto]
	h.handlersMu.RUnlock()
	if handler == nil {
		_ = ms.Reset()
		return
	}
	handler(c.track(ms, proto))
}

// ============================================================================
//                              空闲回收
// ============================================================================

func (h *Host) reapLoop() {
	defer h.refs.Done()
	ticker := h.clock.Ticker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.reapIdle()
			h.addrs.expire()
		case <-h.ctx.Done():
			return
		}
	}
}

// reapIdle 关闭没有流且超过 IdleTimeout 的连接，受保护节点除外
func (h *Host) reapIdle() {
	now := h.clock.Now()

	h.mu.RLock()
	var idle []*conn
	for p, cs := range h.conns {
		if len(h.protected[p]) > 0 {
			continue
		}
		for _, c := range cs {
			if c.streams.Load() == 0 && now.Sub(c.idleSince()) >= h.cfg.IdleTimeout {
				idle = append(idle, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		log.Debug("关闭空闲连接", "conn", c)
		_ = c.Close()
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭监听器、连接与传输
func (h *Host) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.cancel()

	h.mu.Lock()
	listeners := h.listeners
	h.listeners = nil
	transports := h.transports
	var conns []*conn
	for _, cs := range h.conns {
		conns = append(conns, cs...)
	}
	h.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, c := range conns {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, ErrClosed) {
			log.Debug("关闭连接出错", "conn", c, "err", cerr)
		}
	}
	for _, t := range transports {
		err = multierr.Append(err, t.Close())
	}

	h.refs.Wait()

	err = multierr.Append(err, h.emitConnected.Close())
	err = multierr.Append(err, h.emitDisconnected.Close())
	err = multierr.Append(err, h.emitAddrs.Close())
	return err
}
