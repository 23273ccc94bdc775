package multiaddr

import (
	"crypto/sha256"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/pkg/types"
)

func testPeer() types.PeerID {
	return types.PeerID(sha256.Sum256([]byte("relay")))
}

func TestParse_Valid(t *testing.T) {
	peer := testPeer()
	cases := []string{
		"/ip4/0.0.0.0/tcp/5511",
		"/ip4/0.0.0.0/udp/5511/quic-v1",
		"/ip6/::1/tcp/4001",
		"/dns4/relay.example.com/tcp/443/p2p/" + peer.String(),
		"/ip4/1.2.3.4/tcp/1/p2p/" + peer.String() + "/p2p-circuit/p2p/" + peer.String(),
	}
	for _, s := range cases {
		m, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, m.String())

		fromBytes, err := FromBytes(m.Bytes())
		require.NoError(t, err, s)
		assert.True(t, m.Equal(fromBytes), s)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]error{
		"":                       ErrEmpty,
		"ip4/1.2.3.4":            ErrInvalid,
		"/ip4/1.2.3.4/sctp/1":    ErrUnknownProtocol,
		"/ip4/::1/tcp/1":         ErrInvalid,
		"/ip4/1.2.3.4/tcp/70000": ErrInvalid,
		"/ip4/1.2.3.4/tcp":       ErrInvalid,
		"/p2p/notbase58!":        ErrInvalid,
	}
	for s, want := range cases {
		_, err := Parse(s)
		assert.ErrorIs(t, err, want, s)
	}
}

func TestFromNetAddr(t *testing.T) {
	m, err := FromNetAddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5511})
	require.NoError(t, err)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/5511", m.String())
	assert.True(t, m.IsTCP())
	assert.True(t, m.IsLoopback())

	m, err = FromNetAddr(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 9})
	require.NoError(t, err)
	assert.Equal(t, "/ip6/::1/udp/9/quic-v1", m.String())
	assert.True(t, m.IsQUIC())
}

func TestDialArgs(t *testing.T) {
	network, hostport, err := MustParse("/ip4/10.0.0.1/tcp/80").DialArgs()
	require.NoError(t, err)
	assert.Equal(t, "tcp4", network)
	assert.Equal(t, "10.0.0.1:80", hostport)

	network, hostport, err = MustParse("/ip6/::1/udp/9/quic-v1").DialArgs()
	require.NoError(t, err)
	assert.Equal(t, "udp6", network)
	assert.Equal(t, "[::1]:9", hostport)

	network, _, err = MustParse("/dns/example.com/tcp/1").DialArgs()
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)

	_, _, err = MustParse("/p2p/" + testPeer().String()).DialArgs()
	assert.ErrorIs(t, err, ErrNotThinWaist)
}

func TestPeerSplitAndJoin(t *testing.T) {
	peer := testPeer()
	base := MustParse("/ip4/1.2.3.4/tcp/5511")

	full := base.WithPeer(peer)
	assert.True(t, full.Equal(full.WithPeer(peer)))

	transport, id, ok := full.SplitPeer()
	require.True(t, ok)
	assert.Equal(t, peer, id)
	assert.True(t, transport.Equal(base))

	_, _, ok = base.SplitPeer()
	assert.False(t, ok)
}

func TestRelayedAddr(t *testing.T) {
	peer := testPeer()
	circuit := MustParse("/ip4/1.2.3.4/tcp/1/p2p/" + peer.String() + "/p2p-circuit")

	assert.True(t, circuit.IsRelayed())
	assert.False(t, circuit.IsTCP())

	relay := circuit.DecapsulateCode(P_P2P_CIRCUIT)
	assert.Equal(t, "/ip4/1.2.3.4/tcp/1/p2p/"+peer.String(), relay.String())
}

func TestIsPublic(t *testing.T) {
	assert.True(t, MustParse("/ip4/8.8.8.8/tcp/1").IsPublic())
	assert.False(t, MustParse("/ip4/192.168.1.2/tcp/1").IsPublic())
	assert.False(t, MustParse("/ip4/0.0.0.0/tcp/1").IsPublic())
	assert.True(t, MustParse("/dns4/example.com/tcp/1").IsPublic())
}

func TestUnique(t *testing.T) {
	a := MustParse("/ip4/1.2.3.4/tcp/1")
	b := MustParse("/ip4/1.2.3.4/udp/1/quic-v1")
	out := Unique([]Multiaddr{a, b, a, {}})
	assert.Equal(t, []string{a.String(), b.String()}, Strings(out))
}
