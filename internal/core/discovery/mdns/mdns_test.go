package mdns

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/host/hosttest"
	"github.com/retoro/go-retoro/internal/core/identity"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

func newPeerID(t *testing.T) types.PeerID {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id.ID()
}

func TestTXT_RoundTripsPeerAndAddrs(t *testing.T) {
	id := newPeerID(t)
	addrs := []multiaddr.Multiaddr{
		multiaddr.MustParse("/ip4/192.168.1.7/tcp/5511"),
		multiaddr.MustParse("/ip4/192.168.1.7/udp/5511/quic-v1"),
	}
	txt := buildTXT(id, addrs)
	require.Len(t, txt, 2)
	assert.Equal(t, "id="+id.String(), txt[0])

	gotID, gotAddrs, err := parseTXT(txt)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	require.Len(t, gotAddrs, 2)
	assert.True(t, gotAddrs[1].Equal(addrs[1]))
}

func TestTXT_SplitsLongAddressLists(t *testing.T) {
	var addrs []multiaddr.Multiaddr
	for i := 0; i < 20; i++ {
		addrs = append(addrs, multiaddr.MustParse("/ip4/192.168.100.100/udp/"+strconv.Itoa(40000+i)+"/quic-v1"))
	}
	txt := buildTXT(newPeerID(t), addrs)
	assert.Greater(t, len(txt), 2)
	for _, s := range txt {
		assert.LessOrEqual(t, len(s), maxTXTLen)
	}

	_, back, err := parseTXT(txt)
	require.NoError(t, err)
	assert.Len(t, back, 20)
}

func TestTXT_Rejects(t *testing.T) {
	_, _, err := parseTXT([]string{"addrs=/ip4/1.2.3.4/tcp/1"})
	assert.ErrorIs(t, err, errNoPeerID)

	_, _, err = parseTXT([]string{"id=not-a-peer"})
	assert.Error(t, err)

	id := newPeerID(t)
	_, addrs, err := parseTXT([]string{"id=" + id.String(), "addrs=garbage,/ip4/1.2.3.4/tcp/1/p2p-circuit,/ip4/1.2.3.4/tcp/1"})
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "/ip4/1.2.3.4/tcp/1", addrs[0].String())
}

func TestServiceEndpoint_PrefersTCPPort(t *testing.T) {
	ips, port := serviceEndpoint([]multiaddr.Multiaddr{
		multiaddr.MustParse("/ip4/10.0.0.2/udp/7000/quic-v1"),
		multiaddr.MustParse("/ip4/10.0.0.2/tcp/7001"),
		multiaddr.MustParse("/ip6/fe80::1/tcp/7002"),
	}, true)
	assert.Equal(t, 7001, port)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.2", ips[0].String())
}

func TestAdvertisable_SkipsLoopbackAndUnspecified(t *testing.T) {
	lan := multiaddr.MustParse("/ip4/192.168.1.20/tcp/4001")
	out := advertisable([]multiaddr.Multiaddr{
		multiaddr.MustParse("/ip4/127.0.0.1/tcp/4001"),
		multiaddr.MustParse("/ip4/0.0.0.0/tcp/4001"),
		multiaddr.MustParse("/ip6/::1/tcp/4001"),
		lan,
	})
	require.Len(t, out, 1)
	assert.Equal(t, lan.String(), out[0].String())

	// 只监听回环时没有可通告地址
	ips, _ := serviceEndpoint(advertisable([]multiaddr.Multiaddr{
		multiaddr.MustParse("/ip4/127.0.0.1/tcp/4001"),
	}), false)
	assert.Empty(t, ips)
}

func TestService_DiscoveryAndExpiry(t *testing.T) {
	h := hosttest.New(t)
	clk := clock.NewMock()
	s, err := New(h, DefaultConfig(), clk)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.discovered.Close()
		_ = s.expired.Close()
	})

	disc, err := h.EventBus().Subscribe(new(pkgif.EvtPeerDiscovered), pkgif.BufSize(4))
	require.NoError(t, err)
	defer disc.Close()
	exp, err := h.EventBus().Subscribe(new(pkgif.EvtPeerExpired), pkgif.BufSize(4))
	require.NoError(t, err)
	defer exp.Close()

	other := newPeerID(t)
	entry := &mdns.ServiceEntry{
		Name:       "retoro-x._retoro._udp.local.",
		InfoFields: buildTXT(other, []multiaddr.Multiaddr{multiaddr.MustParse("/ip4/192.168.1.9/tcp/5511")}),
	}
	s.handleEntry(entry)
	s.handleEntry(entry)

	select {
	case e := <-disc.Out():
		evt := e.(pkgif.EvtPeerDiscovered)
		assert.Equal(t, other, evt.Peer)
		assert.Equal(t, Source, evt.Source)
		require.Len(t, evt.Addrs, 1)
	case <-time.After(time.Second):
		t.Fatal("no discovery event")
	}
	select {
	case <-disc.Out():
		t.Fatal("repeated responses must not re-emit")
	default:
	}
	require.Len(t, s.Peers(), 1)

	clk.Add(DefaultConfig().TTL / 2)
	s.handleEntry(entry)
	clk.Add(DefaultConfig().TTL - time.Second)
	s.expire()
	assert.Len(t, s.Peers(), 1)

	clk.Add(2 * time.Second)
	s.expire()
	select {
	case e := <-exp.Out():
		assert.Equal(t, other, e.(pkgif.EvtPeerExpired).Peer)
	case <-time.After(time.Second):
		t.Fatal("no expiry event")
	}
	assert.Empty(t, s.Peers())
}

func TestService_IgnoresSelfAndFallsBackToA(t *testing.T) {
	h := hosttest.New(t)
	s, err := New(h, DefaultConfig(), clock.NewMock())
	require.NoError(t, err)

	s.handleEntry(&mdns.ServiceEntry{InfoFields: buildTXT(h.ID(), nil)})
	assert.Empty(t, s.Peers())

	other := newPeerID(t)
	s.handleEntry(&mdns.ServiceEntry{
		InfoFields: buildTXT(other, nil),
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       5511,
	})
	peers := s.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "/ip4/192.168.1.20/tcp/5511", peers[0].Addrs[0].String())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.TTL = time.Second
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ServiceTag = ""
	assert.True(t, strings.Contains(cfg.Validate().Error(), "service tag"))
}
