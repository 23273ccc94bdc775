package ping

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host  pkgif.Host
	Clock clock.Clock `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Liveness pkgif.Liveness
	Service  *Service
}

// ProvideServices 创建 ping 服务
func ProvideServices(input ModuleInput) ModuleOutput {
	svc := New(input.Host, input.Clock)
	return ModuleOutput{Liveness: svc, Service: svc}
}

func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			svc.Stop()
			return nil
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("ping",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
