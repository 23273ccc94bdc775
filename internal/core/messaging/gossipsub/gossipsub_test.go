package gossipsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/host/hosttest"
	"github.com/retoro/go-retoro/internal/core/identity"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              辅助
// ============================================================================

type countingReporter struct {
	mu        sync.Mutex
	rejected  map[string]int
	duplicate int
	delivered int
	published int
}

func newCountingReporter() *countingReporter {
	return &countingReporter{rejected: make(map[string]int)}
}

func (c *countingReporter) MessagePublished(string) {
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
}

func (c *countingReporter) MessageDelivered(string) {
	c.mu.Lock()
	c.delivered++
	c.mu.Unlock()
}

func (c *countingReporter) MessageRejected(reason string) {
	c.mu.Lock()
	c.rejected[reason]++
	c.mu.Unlock()
}

func (c *countingReporter) MessageDuplicate() {
	c.mu.Lock()
	c.duplicate++
	c.mu.Unlock()
}

func (c *countingReporter) RPCDropped() {}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.HeartbeatInitialDelay = 10 * time.Millisecond
	return cfg
}

func newRouter(t *testing.T, h *host.Host, opts ...Option) *Router {
	t.Helper()
	r, err := New(h, h.PrivateKey(), testConfig(), opts...)
	require.NoError(t, err)
	return r
}

func startRouter(t *testing.T, h *host.Host, opts ...Option) *Router {
	t.Helper()
	r := newRouter(t, h, opts...)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func subscribe(t *testing.T, h pkgif.Host) pkgif.Subscription {
	t.Helper()
	sub, err := h.EventBus().Subscribe(new(pkgif.EvtGossipMessage), pkgif.BufSize(16))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func recv(t *testing.T, sub pkgif.Subscription) pkgif.EvtGossipMessage {
	t.Helper()
	select {
	case e := <-sub.Out():
		return e.(pkgif.EvtGossipMessage)
	case <-time.After(5 * time.Second):
		t.Fatal("no gossip message")
		return pkgif.EvtGossipMessage{}
	}
}

func waitPeers(t *testing.T, r *Router, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.ListPeers(topic)) >= n }, 5*time.Second, 10*time.Millisecond)
}

func signed(t *testing.T, priv crypto.PrivateKey, topic string, data []byte, ts int64) *Message {
	t.Helper()
	id, err := crypto.PeerIDFromPrivateKey(priv)
	require.NoError(t, err)
	m := &Message{From: id.Bytes(), Data: data, Seqno: make([]byte, 8), Topic: topic, Timestamp: ts}
	require.NoError(t, m.sign(priv))
	return m
}

// fakePeer 注册一个只有发送队列的节点
func fakePeer(r *Router) (types.PeerID, chan *rpc) {
	id, _ := identity.Generate()
	q := make(chan *rpc, 16)
	r.peers[id.ID()] = &peer{id: id.ID(), queue: q, done: make(chan struct{})}
	return id.ID(), q
}

// ============================================================================
//                              签名与消息 ID
// ============================================================================

func TestMessage_VerifyStrict(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	m := signed(t, priv, "main", []byte("hello"), 1000)
	src, err := m.verify()
	require.NoError(t, err)
	assert.Equal(t, m.From, src.Bytes())

	tampered := *m
	tampered.Data = []byte("HELLO")
	_, err = tampered.verify()
	assert.ErrorIs(t, err, errBadSignature)

	wrongKey := *m
	wrongKey.Key, err = crypto.MarshalPublicKey(other.GetPublic())
	require.NoError(t, err)
	_, err = wrongKey.verify()
	assert.ErrorIs(t, err, errKeyMismatch)

	unsigned := *m
	unsigned.Signature = nil
	_, err = unsigned.verify()
	assert.ErrorIs(t, err, errNoSignature)

	shortSeq := *m
	shortSeq.Seqno = []byte{1}
	_, err = shortSeq.verify()
	assert.ErrorIs(t, err, errBadSeqno)
}

func TestMessageID_BucketsTimestamp(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a := signed(t, priv, "main", []byte("x"), 10_100)
	b := signed(t, priv, "main", []byte("x"), 10_900)
	c := signed(t, priv, "main", []byte("x"), 11_000)
	d := signed(t, priv, "main", []byte("y"), 10_100)
	e := signed(t, priv, "other", []byte("x"), 10_100)

	bucket := time.Second
	assert.Equal(t, messageID(a, bucket), messageID(b, bucket))
	assert.NotEqual(t, messageID(a, bucket), messageID(c, bucket))
	assert.NotEqual(t, messageID(a, bucket), messageID(d, bucket))
	assert.NotEqual(t, messageID(a, bucket), messageID(e, bucket))
}

func TestRPC_Encoding(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	in := &rpc{
		Subs: []subOpt{{Subscribe: true, Topic: "main"}, {Topic: "old"}},
		Msgs: []*Message{signed(t, priv, "main", []byte("payload"), -5)},
		Control: &control{
			IHave: []ihave{{Topic: "main", IDs: []string{"a", "b"}}},
			IWant: []iwant{{IDs: []string{"c"}}},
			Graft: []graft{{Topic: "main"}},
			Prune: []prune{{Topic: "old", Backoff: 60}},
		},
	}
	out, err := unmarshalRPC(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = out.Msgs[0].verify()
	assert.NoError(t, err)

	_, err = unmarshalRPC([]byte{0x0a, 0x05, 0x01})
	assert.Error(t, err)
}

// ============================================================================
//                              缓存
// ============================================================================

func TestMessageCache_Windows(t *testing.T) {
	mc := newMessageCache(3, 2)
	mc.put("m1", &Message{Topic: "a"})
	mc.shift()
	mc.put("m2", &Message{Topic: "a"})
	mc.put("m3", &Message{Topic: "b"})

	assert.ElementsMatch(t, []string{"m1", "m2"}, mc.gossipIDs("a"))

	mc.shift()
	assert.Equal(t, []string{"m2"}, mc.gossipIDs("a"))
	_, ok := mc.get("m1")
	assert.True(t, ok, "still within history")

	mc.shift()
	_, ok = mc.get("m1")
	assert.False(t, ok)
	_, ok = mc.get("m2")
	assert.True(t, ok)
}

func TestSeenCache(t *testing.T) {
	s := newSeenCache(10, time.Minute)
	assert.True(t, s.add("x"))
	assert.False(t, s.add("x"))
	assert.True(t, s.has("x"))
}

// ============================================================================
//                              Mesh 维护（无网络）
// ============================================================================

func TestHeartbeat_PrunesOversizedMesh(t *testing.T) {
	r := newRouter(t, hosttest.New(t), WithClock(clock.NewMock()))
	r.mesh["main"] = make(map[types.PeerID]struct{})
	r.topics["main"] = make(map[types.PeerID]struct{})
	queues := make(map[types.PeerID]chan *rpc)
	for i := 0; i < 15; i++ {
		id, q := fakePeer(r)
		queues[id] = q
		r.topics["main"][id] = struct{}{}
		r.mesh["main"][id] = struct{}{}
	}

	r.heartbeat()

	assert.Len(t, r.mesh["main"], r.cfg.D)
	pruned := 0
	for id, q := range queues {
		select {
		case out := <-q:
			require.Len(t, out.Control.Prune, 1)
			assert.True(t, r.inBackoffLocked("main", id))
			pruned++
		default:
		}
	}
	assert.Equal(t, 15-r.cfg.D, pruned)
}

func TestHeartbeat_GraftsWhenBelowDlo(t *testing.T) {
	r := newRouter(t, hosttest.New(t), WithClock(clock.NewMock()))
	r.mesh["main"] = make(map[types.PeerID]struct{})
	r.topics["main"] = make(map[types.PeerID]struct{})
	var explicit types.PeerID
	for i := 0; i < 8; i++ {
		id, _ := fakePeer(r)
		r.topics["main"][id] = struct{}{}
		explicit = id
	}
	r.explicit[explicit] = struct{}{}

	r.heartbeat()

	assert.Len(t, r.mesh["main"], r.cfg.D)
	_, inMesh := r.mesh["main"][explicit]
	assert.False(t, inMesh, "explicit peers are never grafted")
}

func TestControl_GraftRejectedWithPrune(t *testing.T) {
	r := newRouter(t, hosttest.New(t), WithClock(clock.NewMock()))
	r.mesh["main"] = make(map[types.PeerID]struct{})
	id, q := fakePeer(r)

	r.handleControlLocked(id, &control{Graft: []graft{{Topic: "unjoined"}}})
	out := <-q
	require.Len(t, out.Control.Prune, 1)
	assert.Equal(t, "unjoined", out.Control.Prune[0].Topic)

	r.handleControlLocked(id, &control{Graft: []graft{{Topic: "main"}}})
	assert.Contains(t, r.mesh["main"], id)

	r.handleControlLocked(id, &control{Prune: []prune{{Topic: "main"}}})
	assert.NotContains(t, r.mesh["main"], id)

	// 退避期内的 GRAFT 被拒绝
	r.handleControlLocked(id, &control{Graft: []graft{{Topic: "main"}}})
	out = <-q
	require.Len(t, out.Control.Prune, 1)
	assert.NotContains(t, r.mesh["main"], id)
}

func TestControl_IHaveIWant(t *testing.T) {
	r := newRouter(t, hosttest.New(t), WithClock(clock.NewMock()))
	r.mesh["main"] = make(map[types.PeerID]struct{})
	id, q := fakePeer(r)

	cached := &Message{Topic: "main", Data: []byte("c")}
	r.mcache.put("have", cached)
	r.seen.add("have")

	r.handleControlLocked(id, &control{
		IHave: []ihave{{Topic: "main", IDs: []string{"have", "missing"}}, {Topic: "other", IDs: []string{"x"}}},
		IWant: []iwant{{IDs: []string{"have", "gone"}}},
	})
	out := <-q
	require.Len(t, out.Control.IWant, 1)
	assert.Equal(t, []string{"missing"}, out.Control.IWant[0].IDs)
	require.Len(t, out.Msgs, 1)
	assert.Same(t, cached, out.Msgs[0])
}

// ============================================================================
//                              网络
// ============================================================================

func TestPublish_Errors(t *testing.T) {
	r := startRouter(t, hosttest.New(t))

	err := r.Publish(context.Background(), "main", []byte("x"))
	assert.ErrorIs(t, err, ErrNotSubscribed)

	require.NoError(t, r.Join("main"))
	require.NoError(t, r.Join("main"))
	assert.Equal(t, []string{"main"}, r.Topics())

	err = r.Publish(context.Background(), "main", []byte("x"))
	assert.ErrorIs(t, err, ErrInsufficientPeers)

	assert.ErrorIs(t, r.Join(""), ErrEmptyTopic)
	assert.ErrorIs(t, r.Leave("nope"), ErrNotSubscribed)
	require.NoError(t, r.Leave("main"))
	assert.Empty(t, r.Topics())
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	rep := newCountingReporter()
	ra := startRouter(t, a)
	rb := startRouter(t, b, WithReporter(rep))
	sub := subscribe(t, b)

	require.NoError(t, ra.Join("main"))
	require.NoError(t, rb.Join("main"))
	hosttest.Connect(t, a, b)
	waitPeers(t, ra, "main", 1)

	require.NoError(t, ra.Publish(context.Background(), "main", []byte("hi")))
	evt := recv(t, sub)
	assert.Equal(t, "main", evt.Topic)
	assert.Equal(t, a.ID(), evt.Source)
	assert.Equal(t, a.ID(), evt.Propagator)
	assert.Equal(t, []byte("hi"), evt.Data)

	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return rep.delivered == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_DropsInvalidAndDuplicate(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	rep := newCountingReporter()
	startRouter(t, a)
	rb := startRouter(t, b, WithReporter(rep))
	sub := subscribe(t, b)
	require.NoError(t, rb.Join("main"))
	hosttest.Connect(t, a, b)
	require.Eventually(t, func() bool {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		_, ok := rb.peers[a.ID()]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	good := signed(t, a.PrivateKey(), "main", []byte("ok"), time.Now().UnixMilli())
	bad := signed(t, a.PrivateKey(), "main", []byte("ok"), time.Now().UnixMilli())
	bad.Data = []byte("forged")

	rb.handleRPC(a.ID(), &rpc{Msgs: []*Message{bad, good, good}})

	evt := recv(t, sub)
	assert.Equal(t, []byte("ok"), evt.Data)
	select {
	case <-sub.Out():
		t.Fatal("duplicate or forged message delivered")
	case <-time.After(100 * time.Millisecond):
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Equal(t, 1, rep.rejected[errBadSignature.Error()])
	assert.Equal(t, 1, rep.duplicate)
}

func TestRouter_ForwardsThroughMesh(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	c := hosttest.New(t)
	ra := startRouter(t, a)
	rb := startRouter(t, b)
	rc := startRouter(t, c)
	for _, r := range []*Router{ra, rb, rc} {
		require.NoError(t, r.Join("main"))
	}
	sub := subscribe(t, c)

	hosttest.Connect(t, a, b)
	hosttest.Connect(t, b, c)
	waitPeers(t, rb, "main", 2)
	require.Eventually(t, func() bool {
		return len(rb.MeshPeers("main")) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, ra.Publish(context.Background(), "main", []byte("relay me")))
	evt := recv(t, sub)
	assert.Equal(t, a.ID(), evt.Source)
	assert.Equal(t, b.ID(), evt.Propagator)
}

func TestRouter_ExplicitPeerOutsideMesh(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	ra := startRouter(t, a)
	rb := startRouter(t, b)
	require.NoError(t, ra.Join("main"))
	require.NoError(t, rb.Join("main"))
	sub := subscribe(t, b)

	ra.AddExplicitPeer(b.ID())
	hosttest.Connect(t, a, b)
	waitPeers(t, ra, "main", 1)

	// 几次心跳后 b 仍不在 a 的 mesh 中
	time.Sleep(300 * time.Millisecond)
	assert.NotContains(t, ra.MeshPeers("main"), b.ID())

	require.NoError(t, ra.Publish(context.Background(), "main", []byte("direct")))
	assert.Equal(t, []byte("direct"), recv(t, sub).Data)

	ra.RemoveExplicitPeer(b.ID())
	ra.mu.Lock()
	assert.NotContains(t, ra.explicit, b.ID())
	ra.mu.Unlock()
}

// ============================================================================
//                              帧上限
// ============================================================================

func TestConfig_RPCSizeCoversEnvelope(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxRPCSize = cfg.MaxMessageSize
	assert.Error(t, cfg.Validate())
}

func TestPublish_FullSizePayloadKeepsLink(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	ra := startRouter(t, a)
	rb := startRouter(t, b)
	subA := subscribe(t, a)
	subB := subscribe(t, b)

	require.NoError(t, ra.Join("main"))
	require.NoError(t, rb.Join("main"))
	hosttest.Connect(t, a, b)
	waitPeers(t, ra, "main", 1)
	waitPeers(t, rb, "main", 1)

	big := make([]byte, ra.cfg.MaxMessageSize)
	big[len(big)-1] = 0x7f
	require.NoError(t, ra.Publish(context.Background(), "main", big))
	assert.Equal(t, big, recv(t, subB).Data)

	assert.ErrorIs(t, ra.Publish(context.Background(), "main", make([]byte, ra.cfg.MaxMessageSize+1)), ErrMessageTooLarge)

	// 链路两个方向仍然可用
	require.NoError(t, rb.Publish(context.Background(), "main", []byte("back")))
	assert.Equal(t, []byte("back"), recv(t, subA).Data)
	require.NoError(t, ra.Publish(context.Background(), "main", []byte("again")))
	assert.Equal(t, []byte("again"), recv(t, subB).Data)
}

func TestControl_IWantRepliesSplitByFrameLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 1024
	cfg.MaxRPCSize = cfg.MaxMessageSize + envelopeReserve
	h := hosttest.New(t)
	r, err := New(h, h.PrivateKey(), cfg, WithClock(clock.NewMock()))
	require.NoError(t, err)
	r.mesh["main"] = make(map[types.PeerID]struct{})
	id, q := fakePeer(r)

	var ids []string
	for _, name := range []string{"m1", "m2", "m3"} {
		r.mcache.put(name, signed(t, h.PrivateKey(), "main", make([]byte, 700), 1000))
		ids = append(ids, name)
	}

	r.handleControlLocked(id, &control{IWant: []iwant{{IDs: ids}}})

	total := 0
	for i := 0; i < 3; i++ {
		out := <-q
		require.Len(t, out.Msgs, 1)
		assert.LessOrEqual(t, len(out.marshal()), cfg.MaxRPCSize)
		total += len(out.Msgs)
	}
	assert.Equal(t, 3, total)
	assert.Empty(t, q)
}

func TestRouter_ReaddsDroppedPeerOnRPC(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	ra := startRouter(t, a)
	rb := startRouter(t, b)
	sub := subscribe(t, b)
	require.NoError(t, ra.Join("main"))
	require.NoError(t, rb.Join("main"))
	hosttest.Connect(t, a, b)
	waitPeers(t, rb, "main", 1)

	// 模拟写失败后的移除：连接与对端的流仍在
	rb.mu.Lock()
	rb.removePeerLocked(a.ID())
	rb.mu.Unlock()

	msg := signed(t, a.PrivateKey(), "main", []byte("after drop"), time.Now().UnixMilli())
	rb.handleRPC(a.ID(), &rpc{Subs: []subOpt{{Subscribe: true, Topic: "main"}}, Msgs: []*Message{msg}})

	assert.Equal(t, []byte("after drop"), recv(t, sub).Data)
	assert.Contains(t, rb.ListPeers("main"), a.ID())
}
