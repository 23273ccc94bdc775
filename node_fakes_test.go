package retoro

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/eventbus"
	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// ============================================================================
//                              fake 能力
// ============================================================================

type fakePeerstore struct {
	pkgif.Peerstore

	mu    sync.Mutex
	addrs map[types.PeerID][]multiaddr.Multiaddr
}

func (p *fakePeerstore) AddAddrs(id types.PeerID, addrs []multiaddr.Multiaddr, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs[id] = append(p.addrs[id], addrs...)
}

type fakeHost struct {
	pkgif.Host

	id  types.PeerID
	bus *eventbus.Bus
	ps  *fakePeerstore

	// addrsBurst AddObservedAddr 同步发射的地址更新次数，模拟一次观测引起多次变化
	addrsBurst int
	emitAddrs  pkgif.Emitter

	mu        sync.Mutex
	listening []multiaddr.Multiaddr
	observed  []multiaddr.Multiaddr
	dialed    []types.PeerID
	listenErr error
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPublicKey(pub)
	require.NoError(t, err)
	bus := eventbus.NewBus()
	em, err := bus.Emitter(new(pkgif.EvtLocalAddrsUpdated))
	require.NoError(t, err)
	t.Cleanup(func() { _ = em.Close() })
	return &fakeHost{
		id:         id,
		bus:        bus,
		ps:         &fakePeerstore{addrs: make(map[types.PeerID][]multiaddr.Multiaddr)},
		addrsBurst: 1,
		emitAddrs:  em,
	}
}

func (h *fakeHost) ID() types.PeerID           { return h.id }
func (h *fakeHost) EventBus() pkgif.EventBus   { return h.bus }
func (h *fakeHost) Peerstore() pkgif.Peerstore { return h.ps }

func (h *fakeHost) AddObservedAddr(a multiaddr.Multiaddr) {
	h.mu.Lock()
	h.observed = append(h.observed, a)
	current := slices.Clone(h.observed)
	h.mu.Unlock()

	for i := 0; i < h.addrsBurst; i++ {
		_ = h.emitAddrs.Emit(pkgif.EvtLocalAddrsUpdated{Current: current, Added: []multiaddr.Multiaddr{a}})
	}
}

func (h *fakeHost) Listen(addrs ...multiaddr.Multiaddr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listenErr != nil {
		return h.listenErr
	}
	h.listening = append(h.listening, addrs...)
	return nil
}

func (h *fakeHost) Addrs() []multiaddr.Multiaddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.listening)
}

func (h *fakeHost) Connect(ctx context.Context, pi pkgif.AddrInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialed = append(h.dialed, pi.ID)
	return nil
}

func (h *fakeHost) dialedPeers() []types.PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.dialed)
}

func (h *fakeHost) observedAddrs() []multiaddr.Multiaddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.observed)
}

// emit 在 host 的内部总线上发射事件
func (h *fakeHost) emit(t *testing.T, evtType, evt interface{}) {
	t.Helper()
	em, err := h.bus.Emitter(evtType)
	require.NoError(t, err)
	defer em.Close()
	require.NoError(t, em.Emit(evt))
}

type published struct {
	topic string
	data  []byte
}

type fakePubSub struct {
	mu        sync.Mutex
	topics    []string
	explicit  map[types.PeerID]bool
	published []published
	joinErr   error
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{explicit: make(map[types.PeerID]bool)}
}

func (p *fakePubSub) Join(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joinErr != nil {
		return p.joinErr
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePubSub) Leave(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = slices.DeleteFunc(p.topics, func(s string) bool { return s == topic })
	return nil
}

func (p *fakePubSub) Publish(_ context.Context, topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.topics, topic) {
		return gossipsub.ErrNotSubscribed
	}
	p.published = append(p.published, published{topic: topic, data: data})
	return nil
}

func (p *fakePubSub) AddExplicitPeer(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.explicit[id] = true
}

func (p *fakePubSub) RemoveExplicitPeer(id types.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.explicit, id)
}

func (p *fakePubSub) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.topics)
}

func (p *fakePubSub) ListPeers(string) []types.PeerID { return nil }

func (p *fakePubSub) isExplicit(id types.PeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.explicit[id]
}

func (p *fakePubSub) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.published)
}

type fakeDiscovery struct {
	errs []error
}

func (d *fakeDiscovery) Bootstrap(context.Context, []multiaddr.Multiaddr) []error { return d.errs }
func (d *fakeDiscovery) Peers() []pkgif.AddrInfo                                  { return nil }

type fakeUpgrade struct{ pkgif.ConnectivityUpgrade }
type fakePeerInfo struct{ pkgif.PeerInfo }
type fakeLiveness struct{ pkgif.Liveness }

// ============================================================================
//                              测试节点
// ============================================================================

type fakeNode struct {
	*Node
	host   *fakeHost
	pubsub *fakePubSub
	disc   *fakeDiscovery
}

func newFakeNode(t *testing.T, opts ...Option) *fakeNode {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableMDNS = false
	for _, opt := range opts {
		require.NoError(t, opt(&cfg))
	}
	rc, err := cfg.resolve()
	require.NoError(t, err)

	f := &fakeNode{host: newFakeHost(t), pubsub: newFakePubSub(), disc: &fakeDiscovery{}}
	caps := pkgif.Capabilities{
		Host:      f.host,
		Discovery: f.disc,
		PubSub:    f.pubsub,
		Upgrade:   fakeUpgrade{},
		PeerInfo:  fakePeerInfo{},
		Liveness:  fakeLiveness{},
	}
	require.NoError(t, caps.Validate())
	f.Node = newNode(rc, caps)
	return f
}

// start 在后台运行节点并等待进入 Running，返回等待 Run 结束的函数
func (f *fakeNode) start(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		runErr = f.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return f.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	return func() error {
		select {
		case <-done:
			return runErr
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

// next 读取下一个事件
func next(t *testing.T, sub *EventSubscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := sub.Recv(ctx)
	require.NoError(t, err)
	return e
}
