package discovery

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/discovery/bootstrap"
	"github.com/retoro/go-retoro/internal/core/discovery/mdns"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// Config 发现模块配置
type Config struct {
	// EnableMDNS 启用局域网发现
	EnableMDNS bool

	MDNS      mdns.Config
	Bootstrap bootstrap.Config
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		EnableMDNS: true,
		MDNS:       mdns.DefaultConfig(),
		Bootstrap:  bootstrap.DefaultConfig(),
	}
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host   pkgif.Host
	Config *Config     `optional:"true"`
	Clock  clock.Clock `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Discovery pkgif.Discovery
	Service   *Service
	MDNS      *mdns.Service
}

// ProvideServices 创建发现服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}

	var m *mdns.Service
	if cfg.EnableMDNS {
		var err error
		if m, err = mdns.New(input.Host, cfg.MDNS, input.Clock); err != nil {
			return ModuleOutput{}, err
		}
	}
	svc := New(input.Host, m, cfg.Bootstrap)
	return ModuleOutput{Discovery: svc, Service: svc, MDNS: m}, nil
}

func registerLifecycle(lc fx.Lifecycle, m *mdns.Service) {
	if m == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return m.Start()
		},
		OnStop: func(context.Context) error {
			m.Stop()
			return nil
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("discovery",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
