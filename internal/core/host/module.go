package host

import (
	"context"

	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Identity pkgif.Identity
	EventBus pkgif.EventBus
	Config   *Config  `optional:"true"`
	Reporter Reporter `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Host     pkgif.Host
	HostImpl *Host
}

// ProvideServices 创建 Host 及其直连传输
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}

	ts, err := BuildTransports(input.Identity, cfg)
	if err != nil {
		return ModuleOutput{}, err
	}

	opts := []Option{WithTransports(ts...)}
	if input.Reporter != nil {
		opts = append(opts, WithReporter(input.Reporter))
	}
	h, err := New(input.Identity, input.EventBus, cfg, opts...)
	if err != nil {
		for _, t := range ts {
			_ = t.Close()
		}
		return ModuleOutput{}, err
	}
	return ModuleOutput{Host: h, HostImpl: h}, nil
}

type lifecycleInput struct {
	fx.In

	LC   fx.Lifecycle
	Host *Host
}

func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			input.Host.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return input.Host.Close()
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("host",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
