package identify

import (
	"context"

	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host   pkgif.Host
	Config *Config `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	PeerInfo pkgif.PeerInfo
	Service  *Service
}

// ProvideServices 创建 identify 服务
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}
	svc, err := New(input.Host, cfg)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{PeerInfo: svc, Service: svc}, nil
}

func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return svc.Start() },
		OnStop:  func(context.Context) error { return svc.Stop() },
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("identify",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
