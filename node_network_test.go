package retoro

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/storage"
	"github.com/retoro/go-retoro/pkg/types"
)

// startNode 创建并运行真实节点，测试结束时停止
func startNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	n, sub := startNodeWithEvents(t, opts...)
	sub.Close()
	return n
}

// startNodeWithEvents 在 Run 之前订阅事件，不错过启动期间的事件
func startNodeWithEvents(t *testing.T, opts ...Option) (*Node, *EventSubscription) {
	t.Helper()
	base := []Option{
		WithListenAddrs("/ip4/127.0.0.1/tcp/0"),
		WithMDNS(false),
		WithGossipHeartbeat(200 * time.Millisecond),
	}
	n, err := New(append(base, opts...)...)
	require.NoError(t, err)
	sub := n.Events()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		sub.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(20 * time.Second):
			t.Error("node did not stop")
		}
	})

	require.Eventually(t, func() bool { return n.State() == StateRunning }, 10*time.Second, 10*time.Millisecond)
	return n, sub
}

// storageIDs 读取数据目录中持久化的节点
func storageIDs(t *testing.T, dir string) []types.PeerID {
	t.Helper()
	cfg := storage.DefaultConfig(filepath.Join(dir, "db"))
	cfg.GCInterval = 0
	db, err := storage.Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	records, err := storage.NewNodes(db).All()
	require.NoError(t, err)
	ids := make([]types.PeerID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// tcpAddrs 过滤出直连 TCP 地址
func tcpAddrs(n *Node) []string {
	return slices.DeleteFunc(n.Addrs(), func(a string) bool {
		return !strings.Contains(a, "/tcp/") || strings.Contains(a, "p2p-circuit")
	})
}

func TestNodes_ExchangeMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("network test")
	}

	a := startNode(t, WithName("a"))
	b := startNode(t, WithName("b"), WithBootstrapPeers(tcpAddrs(a)...))

	sub := b.Events()
	defer sub.Close()

	require.Eventually(t, func() bool {
		return slices.Contains(a.caps.PubSub.ListPeers(MainChannel), b.ID())
	}, 15*time.Second, 50*time.Millisecond, "b never joined a's view of %q", MainChannel)

	const total = 5
	h := a.Commands()
	defer h.Close()
	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		content := fmt.Sprintf("message %d %s", i, uuid.NewString())
		want = append(want, content)
		require.NoError(t, h.Send(context.Background(), SendMessage{Content: content, Target: ChannelTarget{Name: MainChannel}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var got []string
	for len(got) < total {
		e, err := sub.Recv(ctx)
		require.NoError(t, err)
		if rm, ok := e.(ReceivedMessage); ok {
			assert.Equal(t, "a", rm.Message.AuthorName)
			assert.Equal(t, a.ID().Bytes(), rm.Message.AuthorID)
			assert.Equal(t, ChannelSource{Name: MainChannel, Propagator: a.ID()}, rm.Source)
			got = append(got, rm.Message.Content)
		}
	}
	assert.ElementsMatch(t, want, got)

	// 不应有多余的投递
	time.Sleep(300 * time.Millisecond)
	for {
		e, err := sub.TryRecv()
		if errors.Is(err, ErrNoEvent) {
			break
		}
		require.NoError(t, err)
		_, dup := e.(ReceivedMessage)
		assert.False(t, dup, "unexpected extra message")
	}

	assert.Contains(t, b.KnownNodes(), NodeRepr{Name: "a", PeerID: a.ID()})
}

func TestNodes_PersistKnownNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("network test")
	}

	dir := t.TempDir()
	a := startNode(t, WithName("a"))

	n, err := New(
		WithName("b"),
		WithListenAddrs("/ip4/127.0.0.1/tcp/0"),
		WithMDNS(false),
		WithDataDir(dir),
		WithBootstrapPeers(tcpAddrs(a)...),
	)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		return slices.Contains(n.KnownNodes(), NodeRepr{Name: "a", PeerID: a.ID()})
	}, 15*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, storageIDs(t, dir), a.ID())
}

func TestNodes_MDNSDiscovery(t *testing.T) {
	if testing.Short() {
		t.Skip("multicast test")
	}
	if !hasMulticastInterface() {
		t.Skip("no multicast interface")
	}

	tag := "_retoro-test-" + uuid.NewString()[:8] + "._udp"
	// 回环地址不会被通告，监听所有网卡
	lan := []Option{WithListenAddrs("/ip4/0.0.0.0/tcp/0"), WithMDNS(true), WithMDNSServiceTag(tag)}
	a, subA := startNodeWithEvents(t, lan...)
	b, subB := startNodeWithEvents(t, lan...)

	waitDiscovered := func(sub *EventSubscription, want fmt.Stringer) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for {
			e, err := sub.Recv(ctx)
			require.NoError(t, err, "did not discover %s", want)
			if d, ok := e.(DiscoveredNode); ok && d.Peer.String() == want.String() {
				return
			}
		}
	}
	waitDiscovered(subA, b.ID())
	waitDiscovered(subB, a.ID())
}

func hasMulticastInterface() bool {
	ifs, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifi := range ifs {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

func TestNode_CloseWithoutRunReleasesDataDir(t *testing.T) {
	dir := t.TempDir()
	opts := []Option{WithListenAddrs("/ip4/127.0.0.1/tcp/0"), WithMDNS(false), WithDataDir(dir)}

	n, err := New(opts...)
	require.NoError(t, err)
	sub := n.Events()
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Run(context.Background()), ErrAlreadyRunning)
	_, err = sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrEventsClosed)

	// 未运行的节点不占用数据目录
	again, err := New(opts...)
	require.NoError(t, err)
	assert.Empty(t, storageIDs(t, dir))
	require.NoError(t, again.Close())
}
