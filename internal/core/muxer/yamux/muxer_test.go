package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

func newPair(t *testing.T) (pkgif.MuxedConn, pkgif.MuxedConn) {
	t.Helper()
	tr, err := New(DefaultConfig())
	require.NoError(t, err)

	a, b := net.Pipe()
	client, err := tr.NewConn(a, false)
	require.NoError(t, err)
	server, err := tr.NewConn(b, true)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.AcceptBacklog = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxStreamWindowSize = 1024
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestMuxer_StreamEcho(t *testing.T) {
	client, server := newPair(t)

	go func() {
		s, err := server.AcceptStream()
		if err != nil {
			return
		}
		defer s.Close()
		_, _ = io.Copy(s, s)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := client.OpenStream(ctx)
	require.NoError(t, err)

	_, err = s.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestMuxer_ManyStreams(t *testing.T) {
	client, server := newPair(t)

	const n = 16
	go func() {
		for i := 0; i < n; i++ {
			s, err := server.AcceptStream()
			if err != nil {
				return
			}
			go func() {
				defer s.Close()
				_, _ = io.Copy(s, s)
			}()
		}
	}()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		s, err := client.OpenStream(ctx)
		require.NoError(t, err)
		msg := []byte{byte(i)}
		_, err = s.Write(msg)
		require.NoError(t, err)
		require.NoError(t, s.CloseWrite())
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestMuxer_CloseEndsAccept(t *testing.T) {
	client, server := newPair(t)
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	_, err := server.AcceptStream()
	assert.Error(t, err)
}
