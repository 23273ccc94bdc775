// Package discovery 组合局域网发现与引导拨号，提供 Discovery 能力
package discovery

import (
	"context"

	"github.com/retoro/go-retoro/internal/core/discovery/bootstrap"
	"github.com/retoro/go-retoro/internal/core/discovery/mdns"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// Service 发现服务
//
// mdns 为 nil 表示关闭了局域网发现，此时 Peers 返回空。
type Service struct {
	host      pkgif.Host
	mdns      *mdns.Service
	bootstrap bootstrap.Config
}

var _ pkgif.Discovery = (*Service)(nil)

// New 创建发现服务
func New(h pkgif.Host, m *mdns.Service, cfg bootstrap.Config) *Service {
	return &Service{host: h, mdns: m, bootstrap: cfg}
}

// Bootstrap 对每个引导地址拨号一次，返回失败列表
func (s *Service) Bootstrap(ctx context.Context, addrs []multiaddr.Multiaddr) []error {
	return bootstrap.Dial(ctx, s.host, addrs, s.bootstrap)
}

// Peers 当前仍有效的已发现节点
func (s *Service) Peers() []pkgif.AddrInfo {
	if s.mdns == nil {
		return nil
	}
	return s.mdns.Peers()
}
