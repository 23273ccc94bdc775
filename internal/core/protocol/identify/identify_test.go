package identify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/host/hosttest"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

func startService(t *testing.T, h pkgif.Host, name string) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DisplayName = name
	svc, err := New(h, cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func TestIdentify_OnConnect(t *testing.T) {
	h1 := hosttest.New(t)
	h2 := hosttest.New(t)
	s1 := startService(t, h1, "alice")
	startService(t, h2, "bob")

	sub, err := h1.EventBus().Subscribe(new(pkgif.EvtIdentifyCompleted))
	require.NoError(t, err)
	defer sub.Close()

	hosttest.Connect(t, h1, h2)

	select {
	case e := <-sub.Out():
		evt := e.(pkgif.EvtIdentifyCompleted)
		assert.Equal(t, h2.ID(), evt.Peer)
		assert.Equal(t, "bob", evt.Info.DisplayName)
		assert.Equal(t, "/retoro/0.0.1", evt.Info.ProtocolVersion)
		assert.Contains(t, evt.Info.Protocols, ProtocolID)
		assert.NotEmpty(t, evt.Info.ListenAddrs)
		// 出站 TCP 连接上的观测地址使用临时端口
		assert.True(t, evt.Info.ObservedAddr.IsEmpty())
	case <-time.After(5 * time.Second):
		t.Fatal("identify not completed")
	}

	info, ok := s1.Info(h2.ID())
	require.True(t, ok)
	assert.Equal(t, "bob", info.DisplayName)
}

func TestIdentify_InboundObservation(t *testing.T) {
	h1 := hosttest.New(t)
	h2 := hosttest.New(t)
	startService(t, h1, "alice")
	s2 := startService(t, h2, "bob")

	hosttest.Connect(t, h1, h2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s2.Identify(ctx, h1.ID())
	require.NoError(t, err)
	assert.Equal(t, "alice", info.DisplayName)
	assert.False(t, info.ObservedAddr.IsEmpty())
	assert.True(t, info.ObservedAddr.IsLoopback())
}

func TestIdentify_InfoForgottenOnDisconnect(t *testing.T) {
	h1 := hosttest.New(t)
	h2 := hosttest.New(t)
	s1 := startService(t, h1, "alice")
	startService(t, h2, "bob")

	hosttest.Connect(t, h1, h2)
	require.Eventually(t, func() bool {
		_, ok := s1.Info(h2.ID())
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h1.ClosePeer(h2.ID()))
	assert.Eventually(t, func() bool {
		_, ok := s1.Info(h2.ID())
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRecord_RejectsMissingKey(t *testing.T) {
	r := &record{info: pkgif.IdentifyInfo{AgentVersion: "x"}}
	data := r.marshal()
	_, err := unmarshalRecord(data)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRecord_Decode(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	pub, err := crypto.MarshalPublicKey(priv.GetPublic())
	require.NoError(t, err)

	in := &record{
		pubKey: pub,
		info: pkgif.IdentifyInfo{
			ProtocolVersion: "/retoro/0.0.1",
			AgentVersion:    "go-retoro/test",
			DisplayName:     "node",
			ListenAddrs:     []multiaddr.Multiaddr{multiaddr.MustParse("/ip4/10.0.0.1/tcp/5511")},
			ObservedAddr:    multiaddr.MustParse("/ip4/1.2.3.4/udp/5511/quic-v1"),
			Protocols:       []types.ProtocolID{ProtocolID},
		},
	}
	out, err := unmarshalRecord(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in.info.DisplayName, out.info.DisplayName)
	require.Len(t, out.info.ListenAddrs, 1)
	assert.True(t, in.info.ListenAddrs[0].Equal(out.info.ListenAddrs[0]))
	assert.True(t, in.info.ObservedAddr.Equal(out.info.ObservedAddr))

	key, err := out.publicKey()
	require.NoError(t, err)
	assert.True(t, key.Equals(priv.GetPublic()))
}
