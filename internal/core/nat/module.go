package nat

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host   pkgif.Host
	Config *Config     `optional:"true"`
	Clock  clock.Clock `optional:"true"`
}

// ProvideService 配置未启用任何功能时返回 nil
func ProvideService(input ModuleInput) (*Service, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	return New(input.Host, cfg, input.Clock)
}

func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	if svc == nil {
		return
	}
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
	return fx.Module("nat",
		fx.Provide(ProvideService),
		fx.Invoke(registerLifecycle),
	)
}
