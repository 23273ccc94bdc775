package upgrader

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/identity"
	"github.com/retoro/go-retoro/internal/core/muxer/yamux"
	"github.com/retoro/go-retoro/internal/core/security/noise"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

func newUpgrader(t *testing.T) (*Upgrader, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	mx, err := yamux.New(yamux.DefaultConfig())
	require.NoError(t, err)
	u, err := New(Config{
		Security: []pkgif.SecureTransport{sec},
		Muxers:   []pkgif.Multiplexer{mx},
	})
	require.NoError(t, err)
	return u, id
}

type upgradeResult struct {
	conn pkgif.CapableConn
	err  error
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoSecurityTransport)

	id, err := identity.Generate()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	_, err = New(Config{Security: []pkgif.SecureTransport{sec}})
	assert.ErrorIs(t, err, ErrNoStreamMuxer)
}

func TestUpgrade_EndToEnd(t *testing.T) {
	client, cid := newUpgrader(t)
	server, sid := newUpgrader(t)

	a, b := net.Pipe()
	laddr := multiaddr.MustParse("/ip4/127.0.0.1/tcp/1000")
	raddr := multiaddr.MustParse("/ip4/127.0.0.1/tcp/2000")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan upgradeResult, 1)
	go func() {
		c, err := server.Upgrade(ctx, nil, b, pkgif.DirInbound, types.EmptyPeerID, raddr, laddr)
		ch <- upgradeResult{c, err}
	}()

	cc, err := client.Upgrade(ctx, nil, a, pkgif.DirOutbound, sid.ID(), laddr, raddr)
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	sc := res.conn
	defer cc.Close()
	defer sc.Close()

	assert.Equal(t, sid.ID(), cc.RemotePeer())
	assert.Equal(t, cid.ID(), sc.RemotePeer())
	assert.True(t, cc.RemoteMultiaddr().Equal(raddr))

	go func() {
		s, err := sc.AcceptStream()
		if err != nil {
			return
		}
		defer s.Close()
		_, _ = io.Copy(s, s)
	}()

	s, err := cc.OpenStream(ctx)
	require.NoError(t, err)
	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

type fakeSecurity struct {
	pkgif.SecureTransport
	id types.ProtocolID
}

func (f fakeSecurity) ID() types.ProtocolID { return f.id }

func TestUpgrade_NoCommonSecurity(t *testing.T) {
	mx, err := yamux.New(yamux.DefaultConfig())
	require.NoError(t, err)

	client, err := New(Config{
		Security: []pkgif.SecureTransport{fakeSecurity{id: "/a"}},
		Muxers:   []pkgif.Multiplexer{mx},
	})
	require.NoError(t, err)
	server, err := New(Config{
		Security: []pkgif.SecureTransport{fakeSecurity{id: "/b"}},
		Muxers:   []pkgif.Multiplexer{mx},
	})
	require.NoError(t, err)

	a, b := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		_, err := server.Upgrade(ctx, nil, b, pkgif.DirInbound, types.EmptyPeerID, multiaddr.Multiaddr{}, multiaddr.Multiaddr{})
		ch <- err
	}()

	_, err = client.Upgrade(ctx, nil, a, pkgif.DirOutbound, types.EmptyPeerID, multiaddr.Multiaddr{}, multiaddr.Multiaddr{})
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.Error(t, <-ch)
}
