// Package hosttest 为协议测试创建回环地址上的 Host
package hosttest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retoro/go-retoro/internal/core/eventbus"
	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/identity"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// Option 调整 Host 配置
type Option func(*host.Config)

// QUIC 同时监听 QUIC
func QUIC() Option {
	return func(c *host.Config) { c.EnableQUIC = true }
}

// New 创建监听 127.0.0.1 TCP 随机端口的 Host，测试结束时关闭
func New(t testing.TB, opts ...Option) *host.Host {
	t.Helper()

	id, err := identity.Generate()
	require.NoError(t, err)

	cfg := host.DefaultConfig()
	cfg.EnableQUIC = false
	for _, opt := range opts {
		opt(&cfg)
	}
	ts, err := host.BuildTransports(id, cfg)
	require.NoError(t, err)

	h, err := host.New(id, eventbus.NewBus(), cfg, host.WithTransports(ts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	addrs := []multiaddr.Multiaddr{multiaddr.MustParse("/ip4/127.0.0.1/tcp/0")}
	if cfg.EnableQUIC {
		addrs = append(addrs, multiaddr.MustParse("/ip4/127.0.0.1/udp/0/quic-v1"))
	}
	require.NoError(t, h.Listen(addrs...))
	h.Start()
	return h
}

// Connect 让 a 连接到 b
func Connect(t testing.TB, a, b pkgif.Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, pkgif.AddrInfo{ID: b.ID(), Addrs: b.ListenAddrs()}))
}

// AddrInfo 返回 h 的地址信息
func AddrInfo(h pkgif.Host) pkgif.AddrInfo {
	return pkgif.AddrInfo{ID: h.ID(), Addrs: h.ListenAddrs()}
}
