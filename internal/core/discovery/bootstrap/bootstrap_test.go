package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/host/hosttest"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

func TestDial_MixedResults(t *testing.T) {
	a := hosttest.New(t)
	b := hosttest.New(t)
	c := hosttest.New(t)

	dead := multiaddr.MustParse("/ip4/127.0.0.1/tcp/1")
	addrs := []multiaddr.Multiaddr{
		b.ListenAddrs()[0].WithPeer(b.ID()),
		dead,
		// 无 /p2p 后缀，身份由握手得知
		c.ListenAddrs()[0],
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := Dial(ctx, a, addrs, Config{MaxConcurrent: 2, DialTimeout: 3 * time.Second})

	require.Len(t, errs, 1)
	var de *DialError
	require.True(t, errors.As(errs[0], &de))
	assert.True(t, de.Addr.Equal(dead))

	assert.True(t, a.Connected(b.ID()))
	assert.True(t, a.Connected(c.ID()))
}

func TestDial_Empty(t *testing.T) {
	assert.Nil(t, Dial(context.Background(), hosttest.New(t), nil, DefaultConfig()))
}
