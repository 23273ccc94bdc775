package holepunch

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/relay"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host        pkgif.Host
	RelayClient *relay.Client
	Config      *Config     `optional:"true"`
	Clock       clock.Clock `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Service *Service
	Upgrade pkgif.ConnectivityUpgrade
}

// upgrade 组合中继客户端与打洞服务
type upgrade struct {
	*relay.Client
	*Service
}

// ProvideServices 创建打洞服务与连通性升级能力
func ProvideServices(input ModuleInput) ModuleOutput {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}
	svc := New(input.Host, cfg, input.Clock)
	return ModuleOutput{
		Service: svc,
		Upgrade: upgrade{Client: input.RelayClient, Service: svc},
	}
}

func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return svc.Start()
		},
		OnStop: func(context.Context) error {
			svc.Stop()
			return nil
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("holepunch",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
