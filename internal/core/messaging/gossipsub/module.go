package gossipsub

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host     pkgif.Host
	Identity pkgif.Identity
	Config   *Config     `optional:"true"`
	Clock    clock.Clock `optional:"true"`
	Reporter Reporter    `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	PubSub pkgif.PubSub
	Router *Router
}

// ProvideServices 创建路由器
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}
	var opts []Option
	if input.Clock != nil {
		opts = append(opts, WithClock(input.Clock))
	}
	if input.Reporter != nil {
		opts = append(opts, WithReporter(input.Reporter))
	}
	r, err := New(input.Host, input.Identity.PrivateKey(), cfg, opts...)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{PubSub: r, Router: r}, nil
}

func registerLifecycle(lc fx.Lifecycle, r *Router) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return r.Start()
		},
		OnStop: func(context.Context) error {
			r.Stop()
			return nil
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("gossipsub",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
