package noise

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/identity"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

func newTransport(t *testing.T) (*Transport, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	tr, err := New(id)
	require.NoError(t, err)
	return tr, id
}

type result struct {
	conn pkgif.SecureConn
	err  error
}

func handshake(t *testing.T, client, server *Transport, expect types.PeerID) (pkgif.SecureConn, pkgif.SecureConn, error, error) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		sc, err := server.SecureInbound(ctx, s, types.EmptyPeerID)
		if err != nil {
			s.Close()
		}
		ch <- result{sc, err}
	}()

	cc, cerr := client.SecureOutbound(ctx, c, expect)
	if cerr != nil {
		c.Close()
	}
	r := <-ch
	return cc, r.conn, cerr, r.err
}

func TestHandshake_MutualIdentity(t *testing.T) {
	client, cid := newTransport(t)
	server, sid := newTransport(t)

	cc, sc, cerr, serr := handshake(t, client, server, sid.ID())
	require.NoError(t, cerr)
	require.NoError(t, serr)

	assert.Equal(t, cid.ID(), cc.LocalPeer())
	assert.Equal(t, sid.ID(), cc.RemotePeer())
	assert.Equal(t, cid.ID(), sc.RemotePeer())
	assert.True(t, sc.RemotePublicKey().Equals(cid.PublicKey()))
}

func TestHandshake_PeerMismatch(t *testing.T) {
	client, _ := newTransport(t)
	server, _ := newTransport(t)
	_, other := newTransport(t)

	_, _, cerr, _ := handshake(t, client, server, other.ID())
	assert.ErrorIs(t, cerr, ErrPeerMismatch)
}

func TestSecureConn_ReadWrite(t *testing.T) {
	client, _ := newTransport(t)
	server, sid := newTransport(t)

	cc, sc, cerr, serr := handshake(t, client, server, sid.ID())
	require.NoError(t, cerr)
	require.NoError(t, serr)

	// 超过单帧上限的数据被分帧
	payload := bytes.Repeat([]byte("retoro"), 30000)
	go func() {
		_, _ = cc.Write(payload)
	}()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(sc, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestHandshake_ContextCancel(t *testing.T) {
	client, _ := newTransport(t)
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// 对端从不响应
	go io.Copy(io.Discard, s)
	_, err := client.SecureOutbound(ctx, c, types.EmptyPeerID)
	assert.Error(t, err)
}

func TestKeyConversion(t *testing.T) {
	_, id := newTransport(t)
	raw, err := id.PublicKey().Raw()
	require.NoError(t, err)

	pub, err := ed25519ToCurve25519Public(raw)
	require.NoError(t, err)
	assert.Len(t, pub, 32)

	_, err = ed25519ToCurve25519Public(make([]byte, 5))
	assert.Error(t, err)
}
