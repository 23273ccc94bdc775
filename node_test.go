package retoro

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

func randomPeer(t *testing.T) types.PeerID {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func nextError(t *testing.T, sub *EventSubscription) error {
	t.Helper()
	e := next(t, sub)
	ee, ok := e.(ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", e)
	return ee.Err
}

func send(t *testing.T, h *CommandHandle, cmd Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Send(ctx, cmd))
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestNode_StartJoinsMainChannel(t *testing.T) {
	f := newFakeNode(t)
	sub := f.Events()
	defer sub.Close()

	f.start(t)

	assert.Equal(t, JoinedChannel{Channel: MainChannel}, next(t, sub))
	assert.Equal(t, []string{MainChannel}, f.pubsub.Topics())
	require.Len(t, f.Channels(), 1)
	assert.Equal(t, MainChannel, f.Channels()[0].Name)

	assert.Len(t, f.host.Addrs(), 2)
	for _, a := range f.Addrs() {
		_, id, ok := multiaddr.MustParse(a).SplitPeer()
		require.True(t, ok)
		assert.Equal(t, f.ID(), id)
	}
}

func TestNode_RunTwice(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)
	assert.ErrorIs(t, f.Run(context.Background()), ErrAlreadyRunning)
}

func TestNode_ShutdownStopsRun(t *testing.T) {
	f := newFakeNode(t)
	wait := f.start(t)
	sub := f.Events()

	h := f.Commands()
	defer h.Close()
	send(t, h, Shutdown{})

	require.NoError(t, wait())
	assert.Equal(t, StateStopped, f.State())
	assert.ErrorIs(t, h.Send(context.Background(), Ping{}), ErrTransmission)
	assert.ErrorIs(t, f.Commands().TrySend(Ping{}), ErrTransmission)

	_, err := sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrEventsClosed)
}

func TestNode_StopsWhenAllHandlesClosed(t *testing.T) {
	f := newFakeNode(t)
	h := f.Commands()
	other := h.Clone()

	// 在运行前入队，关闭后仍会被处理
	send(t, h, SendMessage{Content: "bye", Target: ChannelTarget{Name: MainChannel}})
	require.NoError(t, h.Close())
	require.NoError(t, other.Close())

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after all handles closed")
	}
	assert.Len(t, f.pubsub.sent(), 1)
	assert.Equal(t, StateStopped, f.State())
}

func TestNode_ContextCancelStopsRun(t *testing.T) {
	f := newFakeNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return f.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNode_ListenFailureIsFatal(t *testing.T) {
	f := newFakeNode(t)
	f.host.listenErr = errors.New("address in use")

	err := f.Run(context.Background())
	assert.ErrorIs(t, err, ErrSwarm)
	assert.Equal(t, StateStopped, f.State())
	assert.Empty(t, f.pubsub.Topics())
}

func TestNode_JoinFailureIsFatal(t *testing.T) {
	f := newFakeNode(t)
	f.pubsub.joinErr = errors.New("boom")

	assert.ErrorIs(t, f.Run(context.Background()), ErrSwarm)
}

func TestNode_BootstrapFailuresAreReported(t *testing.T) {
	f := newFakeNode(t, WithBootstrapPeers("/ip4/127.0.0.1/tcp/1"))
	f.disc.errs = []error{errors.New("connection refused")}
	sub := f.Events()
	defer sub.Close()

	f.start(t)

	err := nextError(t, sub)
	assert.ErrorIs(t, err, ErrSwarm)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, JoinedChannel{Channel: MainChannel}, next(t, sub))
}

// ============================================================================
//                              命令
// ============================================================================

func TestNode_SendMessage(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1700000000000))
	f := newFakeNode(t, WithName("alice"), WithClock(clk))
	f.start(t)

	h := f.Commands()
	defer h.Close()
	send(t, h, SendMessage{Content: "hello", Target: ChannelTarget{Name: MainChannel}})

	require.Eventually(t, func() bool { return len(f.pubsub.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p := f.pubsub.sent()[0]
	assert.Equal(t, MainChannel, p.topic)

	msg, err := DecodeMessage(p.data)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.AuthorName)
	assert.Equal(t, f.ID().Bytes(), msg.AuthorID)
	assert.Equal(t, int64(1700000000000), msg.Timestamp)

	require.Eventually(t, func() bool {
		chs := f.Channels()
		return len(chs) == 1 && len(chs[0].Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, msg.Equal(f.Channels()[0].Messages[0]))
}

func TestNode_PublishToUnjoinedChannel(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)
	sub := f.Events()
	defer sub.Close()

	h := f.Commands()
	defer h.Close()
	send(t, h, SendMessage{Content: "x", Target: ChannelTarget{Name: "elsewhere"}})

	err := nextError(t, sub)
	assert.ErrorIs(t, err, ErrSwarm)
	assert.ErrorIs(t, err, gossipsub.ErrNotSubscribed)
	assert.Empty(t, f.pubsub.sent())
}

func TestNode_UnsupportedCommands(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)
	sub := f.Events()
	defer sub.Close()

	h := f.Commands()
	defer h.Close()

	peer := randomPeer(t)
	cmds := []Command{
		SendMessage{Content: "dm", Target: DirectTarget{Peer: peer}},
		Ping{Peer: peer},
		JoinChannel{Channel: "other"},
		LeaveChannel{Channel: MainChannel},
		AddFriend{Peer: peer},
		RemoveFriend{Peer: peer},
		nil,
	}
	for _, cmd := range cmds {
		send(t, h, cmd)
		err := nextError(t, sub)
		assert.ErrorIs(t, err, ErrUnsupported)
		assert.ErrorIs(t, err, errors.ErrUnsupported)
	}
	assert.Equal(t, StateRunning, f.State())
	assert.Equal(t, []string{MainChannel}, f.pubsub.Topics())
}

func TestNode_QueueBlocksUntilRuntimeStarts(t *testing.T) {
	const k = 3
	f := newFakeNode(t, WithCommandQueueSize(k))
	h := f.Commands()
	defer h.Close()

	for i := 0; i < k; i++ {
		send(t, h, Ping{})
	}

	sent := make(chan error, 1)
	go func() { sent <- h.Send(context.Background(), Ping{}) }()
	select {
	case err := <-sent:
		t.Fatalf("send returned before any command was dequeued: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	f.start(t)
	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send still blocked after runtime started")
	}
}

// ============================================================================
//                              事件
// ============================================================================

func TestNode_LaggingSubscriberDoesNotStallRuntime(t *testing.T) {
	const (
		capacity = 4
		total    = 20
	)
	f := newFakeNode(t, WithEventBufferSize(capacity))
	f.start(t)

	slow := f.Events()
	defer slow.Close()
	fast := f.Events()
	defer fast.Close()

	h := f.Commands()
	defer h.Close()
	for i := 0; i < total; i++ {
		send(t, h, Ping{})
		assert.ErrorIs(t, nextError(t, fast), ErrUnsupported)
	}
	assert.Zero(t, fast.Dropped())
	assert.Equal(t, uint64(total-capacity), slow.Dropped())

	_, err := slow.Recv(context.Background())
	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(total-capacity), lagged.Dropped)
	assert.ErrorIs(t, err, ErrLagged)

	for i := 0; i < capacity; i++ {
		assert.IsType(t, ErrorEvent{}, next(t, slow))
	}
}

func TestNode_SubscriberSeesOnlyLaterEvents(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)

	sub := f.Events()
	defer sub.Close()
	_, err := sub.TryRecv()
	assert.ErrorIs(t, err, ErrNoEvent, "JoinedChannel was emitted before subscribing")
}

func TestNode_TryRecvReportsLag(t *testing.T) {
	const capacity = 2
	f := newFakeNode(t, WithEventBufferSize(capacity))
	f.start(t)

	slow := f.Events()
	defer slow.Close()
	fast := f.Events()
	defer fast.Close()

	h := f.Commands()
	defer h.Close()
	for i := 0; i < 5; i++ {
		send(t, h, Ping{})
		assert.ErrorIs(t, nextError(t, fast), ErrUnsupported)
	}

	_, err := slow.TryRecv()
	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(5-capacity), lagged.Dropped)

	for i := 0; i < capacity; i++ {
		e, err := slow.TryRecv()
		require.NoError(t, err)
		assert.IsType(t, ErrorEvent{}, e)
	}
	_, err = slow.TryRecv()
	assert.ErrorIs(t, err, ErrNoEvent)
}

// ============================================================================
//                              内部事件转换
// ============================================================================

func TestNode_ReceivesGossipMessage(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)
	sub := f.Events()
	defer sub.Close()

	author := randomPeer(t)
	propagator := randomPeer(t)
	msg := NewMessage("bob", author.Bytes(), "hi there", clock.New())
	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	// 无法解码的载荷被丢弃，不产生事件
	f.host.emit(t, new(pkgif.EvtGossipMessage), pkgif.EvtGossipMessage{
		Topic: MainChannel, Source: author, Propagator: propagator, Data: []byte{0xff, 0x01},
	})
	f.host.emit(t, new(pkgif.EvtGossipMessage), pkgif.EvtGossipMessage{
		Topic: MainChannel, Source: author, Propagator: propagator, Data: data,
	})

	e := next(t, sub)
	rm, ok := e.(ReceivedMessage)
	require.True(t, ok, "got %T", e)
	assert.True(t, msg.Equal(rm.Message))
	assert.Equal(t, ChannelSource{Name: MainChannel, Propagator: propagator}, rm.Source)

	require.Eventually(t, func() bool {
		chs := f.Channels()
		return len(chs) == 1 && len(chs[0].Members) == 1 && len(chs[0].Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, NodeRepr{Name: "bob", PeerID: author}, f.Channels()[0].Members[0])
	assert.Contains(t, f.KnownNodes(), NodeRepr{Name: "bob", PeerID: author})
}

func TestNode_DiscoveredAndExpired(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)
	sub := f.Events()
	defer sub.Close()

	peer := randomPeer(t)
	addrs := []multiaddr.Multiaddr{multiaddr.MustParse("/ip4/192.168.1.20/tcp/5511")}

	// 自身被忽略
	f.host.emit(t, new(pkgif.EvtPeerDiscovered), pkgif.EvtPeerDiscovered{Peer: f.ID(), Addrs: addrs})
	f.host.emit(t, new(pkgif.EvtPeerDiscovered), pkgif.EvtPeerDiscovered{Peer: peer, Addrs: addrs, Source: "mdns"})

	assert.Equal(t, DiscoveredNode{Peer: peer, Addrs: addrs}, next(t, sub))
	assert.True(t, f.pubsub.isExplicit(peer))
	require.Eventually(t, func() bool { return len(f.host.dialedPeers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, peer, f.host.dialedPeers()[0])

	f.host.emit(t, new(pkgif.EvtPeerExpired), pkgif.EvtPeerExpired{Peer: peer, Source: "mdns"})
	require.Eventually(t, func() bool { return !f.pubsub.isExplicit(peer) }, 2*time.Second, 5*time.Millisecond)
}

func TestNode_IdentifyCompleted(t *testing.T) {
	f := newFakeNode(t)
	f.start(t)

	peer := randomPeer(t)
	observed := multiaddr.MustParse("/ip4/203.0.113.9/tcp/5511")
	f.host.emit(t, new(pkgif.EvtIdentifyCompleted), pkgif.EvtIdentifyCompleted{
		Peer: peer,
		Info: pkgif.IdentifyInfo{
			DisplayName:  "dave",
			ObservedAddr: observed,
			ListenAddrs:  []multiaddr.Multiaddr{multiaddr.MustParse("/ip4/10.0.0.2/tcp/5511")},
		},
	})

	require.Eventually(t, func() bool { return len(f.host.observedAddrs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, observed.Equal(f.host.observedAddrs()[0]))
	require.Eventually(t, func() bool { return len(f.KnownNodes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, NodeRepr{Name: "dave", PeerID: peer}, f.KnownNodes()[0])
}

func TestNode_AddressUpdateBurstDoesNotStallRuntime(t *testing.T) {
	f := newFakeNode(t)
	f.host.addrsBurst = inboundBufSize * 2
	f.start(t)

	peer := randomPeer(t)
	f.host.emit(t, new(pkgif.EvtIdentifyCompleted), pkgif.EvtIdentifyCompleted{
		Peer: peer,
		Info: pkgif.IdentifyInfo{
			DisplayName:  "erin",
			ObservedAddr: multiaddr.MustParse("/ip4/203.0.113.10/tcp/5511"),
		},
	})
	require.Eventually(t, func() bool { return len(f.KnownNodes()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// 协调循环仍在处理命令
	sub := f.Events()
	defer sub.Close()
	h := f.Commands()
	defer h.Close()
	send(t, h, Ping{})
	assert.ErrorIs(t, nextError(t, sub), ErrUnsupported)
}
