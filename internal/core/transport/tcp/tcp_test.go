package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/identity"
	"github.com/retoro/go-retoro/internal/core/muxer/yamux"
	"github.com/retoro/go-retoro/internal/core/security/noise"
	"github.com/retoro/go-retoro/internal/core/upgrader"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

func newTransport(t *testing.T) (*Transport, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	sec, err := noise.New(id)
	require.NoError(t, err)
	mx, err := yamux.New(yamux.DefaultConfig())
	require.NoError(t, err)
	up, err := upgrader.New(upgrader.Config{
		Security: []pkgif.SecureTransport{sec},
		Muxers:   []pkgif.Multiplexer{mx},
	})
	require.NoError(t, err)
	tr := New(up, DefaultConfig())
	t.Cleanup(func() { tr.Close() })
	return tr, id
}

func TestTransport_CanDial(t *testing.T) {
	tr, _ := newTransport(t)

	assert.True(t, tr.CanDial(multiaddr.MustParse("/ip4/1.2.3.4/tcp/5511")))
	assert.True(t, tr.CanDial(multiaddr.MustParse("/dns4/example.com/tcp/5511")))
	assert.False(t, tr.CanDial(multiaddr.MustParse("/ip4/1.2.3.4/udp/5511/quic-v1")))
}

func TestTransport_DialListen(t *testing.T) {
	server, sid := newTransport(t)
	client, cid := newTransport(t)

	l, err := server.Listen(multiaddr.MustParse("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	defer l.Close()

	port, ok := l.Multiaddr().Port()
	require.True(t, ok)
	assert.NotZero(t, port)

	accepted := make(chan pkgif.CapableConn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cc, err := client.Dial(ctx, l.Multiaddr().WithPeer(sid.ID()), sid.ID())
	require.NoError(t, err)
	defer cc.Close()

	var sc pkgif.CapableConn
	select {
	case sc = <-accepted:
	case <-ctx.Done():
		t.Fatal("no inbound connection")
	}
	defer sc.Close()

	assert.Equal(t, cid.ID(), sc.RemotePeer())
	assert.Equal(t, sid.ID(), cc.RemotePeer())
	assert.Equal(t, "tcp", cc.Transport().Name())

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
	_, err = s.Write([]byte("retoro"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "retoro", string(got))
}

func TestTransport_DialUnsupported(t *testing.T) {
	tr, _ := newTransport(t)
	_, err := tr.Dial(context.Background(), multiaddr.MustParse("/ip4/1.2.3.4/udp/1/quic-v1"), types.EmptyPeerID)
	assert.ErrorIs(t, err, ErrUnsupportedAddr)
}

func TestTransport_CloseStopsListeners(t *testing.T) {
	tr, _ := newTransport(t)
	l, err := tr.Listen(multiaddr.MustParse("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	_, err = l.Accept()
	assert.Error(t, err)

	_, err = tr.Listen(multiaddr.MustParse("/ip4/127.0.0.1/tcp/0"))
	assert.ErrorIs(t, err, ErrClosed)
}
