// Package gossipsub 实现 GossipSub v1.1 发布订阅
//
// 每个已加入的主题维护一个 mesh（D/Dlo/Dhi），消息沿 mesh 转发，
// 心跳时修复 mesh 并通过 IHAVE/IWANT 补发。显式节点始终接收其订阅主题的消息，
// 不参与 mesh。所有消息必须签名，公钥必须与来源 PeerID 一致，否则静默丢弃。
package gossipsub

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("messaging.gossipsub")

const (
	// protectTag 连接保护标签
	protectTag = "gossipsub"

	// rpcFieldOverhead 消息在 RPC 中的字段标签与长度前缀
	rpcFieldOverhead = 16
)

// Reporter 消息指标上报
type Reporter interface {
	MessagePublished(topic string)
	MessageDelivered(topic string)
	MessageRejected(reason string)
	MessageDuplicate()
	RPCDropped()
}

type nopReporter struct{}

func (nopReporter) MessagePublished(string) {}
func (nopReporter) MessageDelivered(string) {}
func (nopReporter) MessageRejected(string)  {}
func (nopReporter) MessageDuplicate()       {}
func (nopReporter) RPCDropped()             {}

// Option 路由器选项
type Option func(*Router)

// WithClock 替换时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithReporter 设置指标上报
func WithReporter(rep Reporter) Option {
	return func(r *Router) { r.reporter = rep }
}

// ============================================================================
//                              Router
// ============================================================================

// Router GossipSub 路由器
type Router struct {
	host     pkgif.Host
	priv     crypto.PrivateKey
	self     types.PeerID
	cfg      Config
	clock    clock.Clock
	reporter Reporter
	emitter  pkgif.Emitter
	seqno    atomic.Uint64

	mu       sync.Mutex
	peers    map[types.PeerID]*peer
	topics   map[string]map[types.PeerID]struct{}
	mesh     map[string]map[types.PeerID]struct{}
	explicit map[types.PeerID]struct{}
	backoff  map[string]map[types.PeerID]int64
	streams  map[pkgif.Stream]struct{}
	mcache   *messageCache
	seen     *seenCache
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peer 一个支持 gossipsub 的已连接节点
type peer struct {
	id    types.PeerID
	queue chan *rpc
	done  chan struct{}
}

var _ pkgif.PubSub = (*Router)(nil)

// New 创建路由器
func New(h pkgif.Host, priv crypto.PrivateKey, cfg Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	em, err := h.EventBus().Emitter(new(pkgif.EvtGossipMessage))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		host:     h,
		priv:     priv,
		self:     h.ID(),
		cfg:      cfg,
		clock:    clock.New(),
		reporter: nopReporter{},
		emitter:  em,
		peers:    make(map[types.PeerID]*peer),
		topics:   make(map[string]map[types.PeerID]struct{}),
		mesh:     make(map[string]map[types.PeerID]struct{}),
		explicit: make(map[types.PeerID]struct{}),
		backoff:  make(map[string]map[types.PeerID]int64),
		streams:  make(map[pkgif.Stream]struct{}),
		mcache:   newMessageCache(cfg.HistoryLength, cfg.HistoryGossip),
		seen:     newSeenCache(cfg.SeenCapacity, cfg.SeenTTL),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.seqno.Store(uint64(r.clock.Now().UnixNano()))
	return r, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 注册协议并跟踪连接
func (r *Router) Start() error {
	bus := r.host.EventBus()
	connSub, err := bus.Subscribe(new(pkgif.EvtPeerConnected), pkgif.BufSize(64))
	if err != nil {
		return err
	}
	discSub, err := bus.Subscribe(new(pkgif.EvtPeerDisconnected), pkgif.BufSize(64))
	if err != nil {
		_ = connSub.Close()
		return err
	}
	r.host.SetStreamHandler(ProtocolID, r.handleStream)

	for _, p := range r.host.Peers() {
		r.addPeer(p)
	}

	r.wg.Add(2)
	go r.connLoop(connSub, discSub)
	go r.heartbeatLoop()
	log.Info("GossipSub 已启动", "peer", r.self.ShortString())
	return nil
}

// Stop 停止路由器
func (r *Router) Stop() {
	r.host.RemoveStreamHandler(ProtocolID)

	r.mu.Lock()
	r.closed = true
	for st := range r.streams {
		_ = st.Reset()
	}
	for id := range r.peers {
		r.removePeerLocked(id)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	_ = r.emitter.Close()
}

func (r *Router) connLoop(connSub, discSub pkgif.Subscription) {
	defer r.wg.Done()
	defer connSub.Close()
	defer discSub.Close()

	for {
		select {
		case <-r.ctx.Done():
			return
		case e, ok := <-connSub.Out():
			if !ok {
				return
			}
			r.addPeer(e.(pkgif.EvtPeerConnected).Peer)
		case e, ok := <-discSub.Out():
			if !ok {
				return
			}
			r.mu.Lock()
			r.removePeerLocked(e.(pkgif.EvtPeerDisconnected).Peer)
			r.mu.Unlock()
		}
	}
}

// ============================================================================
//                              节点
// ============================================================================

// addPeer 开始与节点交换 RPC，首帧携带本机订阅；节点已存在时返回 false
func (r *Router) addPeer(id types.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || id == r.self {
		return false
	}
	if _, ok := r.peers[id]; ok {
		return false
	}
	p := &peer{
		id:    id,
		queue: make(chan *rpc, r.cfg.PeerQueueSize),
		done:  make(chan struct{}),
	}
	r.peers[id] = p

	if hello := r.helloLocked(); hello != nil {
		p.queue <- hello
	}

	r.wg.Add(1)
	go r.writeLoop(p)
	return true
}

// helloLocked 本机订阅通告，没有订阅时返回 nil
func (r *Router) helloLocked() *rpc {
	if len(r.mesh) == 0 {
		return nil
	}
	hello := &rpc{}
	for topic := range r.mesh {
		hello.Subs = append(hello.Subs, subOpt{Subscribe: true, Topic: topic})
	}
	return hello
}

func (r *Router) removePeerLocked(id types.PeerID) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	delete(r.peers, id)
	close(p.done)
	for _, subs := range r.topics {
		delete(subs, id)
	}
	for _, m := range r.mesh {
		delete(m, id)
	}
	r.updateProtectionLocked(id)
}

// dropPeer 写失败后移除节点，p 已被替换时忽略
func (r *Router) dropPeer(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.id]; ok && cur == p {
		r.removePeerLocked(p.id)
	}
}

// send 非阻塞入队，队列满时丢弃
func (r *Router) sendLocked(id types.PeerID, out *rpc) {
	p, ok := r.peers[id]
	if !ok {
		return
	}
	select {
	case p.queue <- out:
	default:
		r.reporter.RPCDropped()
		log.Debug("发送队列已满，丢弃 RPC", "peer", id.ShortString())
	}
}

func (r *Router) writeLoop(p *peer) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.StreamTimeout)
	st, err := r.host.NewStream(ctx, p.id, ProtocolID)
	cancel()
	if err != nil {
		log.Debug("打开 gossipsub 流失败", "peer", p.id.ShortString(), "err", err)
		r.dropPeer(p)
		return
	}
	defer st.Close()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-p.done:
			return
		case out := <-p.queue:
			frame := out.marshal()
			if len(frame) > r.cfg.MaxRPCSize {
				r.reporter.RPCDropped()
				log.Warn("RPC 超过帧上限，丢弃", "peer", p.id.ShortString(), "size", len(frame))
				continue
			}
			if err := wire.WriteFrame(st, frame); err != nil {
				log.Debug("写 RPC 失败", "peer", p.id.ShortString(), "err", err)
				_ = st.Reset()
				r.dropPeer(p)
				return
			}
		}
	}
}

func (r *Router) handleStream(st pkgif.Stream) {
	from := st.Conn().RemotePeer()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = st.Reset()
		return
	}
	r.streams[st] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.streams, st)
		r.mu.Unlock()
	}()

	// 对端新开的流表示它（重新）建立了会话，已知节点时补发订阅
	if !r.addPeer(from) {
		r.mu.Lock()
		if hello := r.helloLocked(); hello != nil {
			r.sendLocked(from, hello)
		}
		r.mu.Unlock()
	}

	br := wire.NewFrameReader(st)
	for {
		data, err := wire.ReadFrame(br, r.cfg.MaxRPCSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("读取 RPC 失败", "peer", from.ShortString(), "err", err)
			}
			_ = st.Reset()
			return
		}
		in, err := unmarshalRPC(data)
		if err != nil {
			r.reporter.MessageRejected("malformed")
			log.Debug("丢弃无法解析的 RPC", "peer", from.ShortString(), "err", err)
			continue
		}
		r.handleRPC(from, in)
	}
}

// ============================================================================
//                              RPC 处理
// ============================================================================

type verified struct {
	msg *Message
	id  string
	src types.PeerID
}

func (r *Router) handleRPC(from types.PeerID, in *rpc) {
	// 锁外校验签名
	var msgs []verified
	for _, m := range in.Msgs {
		src, err := m.verify()
		if err == nil && src == r.self {
			err = errSelfOrigin
		}
		if err != nil {
			r.reporter.MessageRejected(err.Error())
			log.Debug("丢弃未通过校验的消息", "peer", from.ShortString(), "reason", err)
			continue
		}
		msgs = append(msgs, verified{msg: m, id: messageID(m, r.cfg.MessageIDBucket), src: src})
	}

	// 写失败会移除节点，而连接和对端的流仍在；收到 RPC 时重新加入
	if r.host.Connected(from) {
		r.addPeer(from)
	}

	var deliver []pkgif.EvtGossipMessage
	r.mu.Lock()
	if _, ok := r.peers[from]; !ok || r.closed {
		r.mu.Unlock()
		return
	}
	for _, s := range in.Subs {
		r.handleSubscriptionLocked(from, s)
	}
	for _, v := range msgs {
		if evt, ok := r.handleMessageLocked(from, v); ok {
			deliver = append(deliver, evt)
		}
	}
	if in.Control != nil {
		r.handleControlLocked(from, in.Control)
	}
	r.mu.Unlock()

	for _, evt := range deliver {
		if err := r.emitter.Emit(evt); err != nil {
			log.Debug("投递消息失败", "topic", evt.Topic, "err", err)
			continue
		}
		r.reporter.MessageDelivered(evt.Topic)
	}
}

func (r *Router) handleSubscriptionLocked(from types.PeerID, s subOpt) {
	if s.Topic == "" {
		return
	}
	if s.Subscribe {
		subs, ok := r.topics[s.Topic]
		if !ok {
			subs = make(map[types.PeerID]struct{})
			r.topics[s.Topic] = subs
		}
		subs[from] = struct{}{}
		return
	}
	delete(r.topics[s.Topic], from)
	if m, ok := r.mesh[s.Topic]; ok {
		delete(m, from)
		r.updateProtectionLocked(from)
	}
}

// handleMessageLocked 去重、缓存、转发；本机加入了该主题时返回待投递事件
func (r *Router) handleMessageLocked(from types.PeerID, v verified) (pkgif.EvtGossipMessage, bool) {
	if !r.seen.add(v.id) {
		r.reporter.MessageDuplicate()
		return pkgif.EvtGossipMessage{}, false
	}
	if _, joined := r.mesh[v.msg.Topic]; !joined {
		return pkgif.EvtGossipMessage{}, false
	}
	r.mcache.put(v.id, v.msg)

	fwd := &rpc{Msgs: []*Message{v.msg}}
	for _, p := range r.forwardTargetsLocked(v.msg.Topic, false) {
		if p != from && p != v.src {
			r.sendLocked(p, fwd)
		}
	}

	return pkgif.EvtGossipMessage{
		Topic:      v.msg.Topic,
		ID:         v.id,
		Source:     v.src,
		Propagator: from,
		Data:       v.msg.Data,
		SeqNo:      v.msg.seqno(),
	}, true
}

// forwardTargetsLocked mesh（或洪泛时全部订阅者）加上订阅了主题的显式节点
func (r *Router) forwardTargetsLocked(topic string, flood bool) []types.PeerID {
	set := make(map[types.PeerID]struct{})
	if flood {
		for p := range r.topics[topic] {
			if _, ok := r.peers[p]; ok {
				set[p] = struct{}{}
			}
		}
	} else {
		for p := range r.mesh[topic] {
			set[p] = struct{}{}
		}
	}
	for p := range r.explicit {
		if _, sub := r.topics[topic][p]; sub {
			if _, ok := r.peers[p]; ok {
				set[p] = struct{}{}
			}
		}
	}
	out := make([]types.PeerID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func (r *Router) handleControlLocked(from types.PeerID, c *control) {
	resp := &rpc{Control: &control{}}

	var want []string
	for _, ih := range c.IHave {
		if _, joined := r.mesh[ih.Topic]; !joined {
			continue
		}
		for _, id := range ih.IDs {
			if len(want) >= r.cfg.MaxIHaveLength {
				break
			}
			if !r.seen.has(id) {
				want = append(want, id)
			}
		}
	}
	if len(want) > 0 {
		resp.Control.IWant = append(resp.Control.IWant, iwant{IDs: want})
	}

	// IWANT 回复按帧上限分批
	var batches []*rpc
	batch, size := &rpc{}, 0
	for _, iw := range c.IWant {
		for _, id := range iw.IDs {
			m, ok := r.mcache.get(id)
			if !ok {
				continue
			}
			n := len(m.marshal()) + rpcFieldOverhead
			if size > 0 && size+n > r.cfg.MaxRPCSize-envelopeReserve {
				batches = append(batches, batch)
				batch, size = &rpc{}, 0
			}
			batch.Msgs = append(batch.Msgs, m)
			size += n
		}
	}
	if len(batch.Msgs) > 0 {
		batches = append(batches, batch)
	}
	if len(batches) > 0 {
		resp.Msgs = batches[0].Msgs
		for _, b := range batches[1:] {
			r.sendLocked(from, b)
		}
	}

	for _, g := range c.Graft {
		if !r.acceptGraftLocked(from, g.Topic) {
			resp.Control.Prune = append(resp.Control.Prune, r.pruneFor(g.Topic))
			continue
		}
		r.mesh[g.Topic][from] = struct{}{}
		r.updateProtectionLocked(from)
	}

	for _, p := range c.Prune {
		if m, ok := r.mesh[p.Topic]; ok {
			delete(m, from)
		}
		backoff := r.cfg.PruneBackoff
		if p.Backoff > 0 {
			backoff = secondsToDuration(p.Backoff)
		}
		r.setBackoffLocked(p.Topic, from, backoff)
		r.updateProtectionLocked(from)
	}

	if len(resp.Msgs) > 0 || !resp.Control.empty() {
		r.sendLocked(from, resp)
	}
}

// acceptGraftLocked 未加入主题、显式节点、退避期内的 GRAFT 以 PRUNE 回应
func (r *Router) acceptGraftLocked(from types.PeerID, topic string) bool {
	if _, joined := r.mesh[topic]; !joined {
		return false
	}
	if _, ok := r.explicit[from]; ok {
		return false
	}
	return !r.inBackoffLocked(topic, from)
}

// ============================================================================
//                              PubSub 能力
// ============================================================================

// Publish 向已加入的主题发布数据
func (r *Router) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > r.cfg.MaxMessageSize {
		return ErrMessageTooLarge
	}

	r.mu.Lock()
	_, joined := r.mesh[topic]
	closed := r.closed
	r.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !joined:
		return ErrNotSubscribed
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], r.seqno.Add(1))
	m := &Message{
		From:      r.self.Bytes(),
		Data:      data,
		Seqno:     seq[:],
		Topic:     topic,
		Timestamp: r.clock.Now().UnixMilli(),
	}
	if err := m.sign(r.priv); err != nil {
		return err
	}
	out := &rpc{Msgs: []*Message{m}}
	if len(out.marshal()) > r.cfg.MaxRPCSize {
		return ErrMessageTooLarge
	}
	id := messageID(m, r.cfg.MessageIDBucket)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mesh[topic]; !ok {
		return ErrNotSubscribed
	}
	r.seen.add(id)
	r.mcache.put(id, m)

	targets := r.forwardTargetsLocked(topic, r.cfg.FloodPublish || len(r.mesh[topic]) == 0)
	if len(targets) == 0 {
		return ErrInsufficientPeers
	}
	for _, p := range targets {
		r.sendLocked(p, out)
	}
	r.reporter.MessagePublished(topic)
	log.Debug("发布消息", "topic", topic, "id", id, "peers", len(targets))
	return nil
}

// Join 加入主题：建立 mesh 并通告订阅
func (r *Router) Join(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.mesh[topic]; ok {
		return nil
	}
	m := make(map[types.PeerID]struct{})
	r.mesh[topic] = m

	sub := subOpt{Subscribe: true, Topic: topic}
	for id := range r.peers {
		r.sendLocked(id, &rpc{Subs: []subOpt{sub}})
	}
	for _, p := range r.graftCandidatesLocked(topic, r.cfg.D) {
		m[p] = struct{}{}
		r.sendLocked(p, &rpc{Control: &control{Graft: []graft{{Topic: topic}}}})
		r.updateProtectionLocked(p)
	}
	log.Info("加入主题", "topic", topic, "mesh", len(m))
	return nil
}

// Leave 离开主题：PRUNE mesh 并通告取消订阅
func (r *Router) Leave(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mesh[topic]
	if !ok {
		return ErrNotSubscribed
	}
	delete(r.mesh, topic)
	for p := range m {
		r.sendLocked(p, &rpc{Control: &control{Prune: []prune{r.pruneFor(topic)}}})
		r.updateProtectionLocked(p)
	}
	sub := subOpt{Subscribe: false, Topic: topic}
	for id := range r.peers {
		r.sendLocked(id, &rpc{Subs: []subOpt{sub}})
	}
	log.Info("离开主题", "topic", topic)
	return nil
}

// AddExplicitPeer 添加显式节点：始终转发，不进入 mesh
func (r *Router) AddExplicitPeer(p types.PeerID) {
	if p == r.self {
		return
	}
	r.mu.Lock()
	r.explicit[p] = struct{}{}
	for _, m := range r.mesh {
		delete(m, p)
	}
	r.updateProtectionLocked(p)
	r.mu.Unlock()

	if r.host.Connected(p) {
		r.addPeer(p)
	}
}

// RemoveExplicitPeer 移除显式节点
func (r *Router) RemoveExplicitPeer(p types.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.explicit, p)
	r.updateProtectionLocked(p)
}

// Topics 已加入的主题
func (r *Router) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.mesh))
	for t := range r.mesh {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ListPeers 订阅了主题的已连接节点
func (r *Router) ListPeers(topic string) []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PeerID, 0, len(r.topics[topic]))
	for p := range r.topics[topic] {
		if _, ok := r.peers[p]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// MeshPeers 主题当前的 mesh 成员
func (r *Router) MeshPeers(topic string) []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PeerID, 0, len(r.mesh[topic]))
	for p := range r.mesh[topic] {
		out = append(out, p)
	}
	return out
}

// updateProtectionLocked 在 mesh 中或为显式节点时保护连接
func (r *Router) updateProtectionLocked(p types.PeerID) {
	keep := false
	if _, ok := r.explicit[p]; ok {
		keep = true
	}
	for _, m := range r.mesh {
		if _, ok := m[p]; ok {
			keep = true
			break
		}
	}
	if keep {
		r.host.Protect(p, protectTag)
	} else {
		r.host.Unprotect(p, protectTag)
	}
}
