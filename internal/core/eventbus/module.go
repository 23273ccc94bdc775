package eventbus

import (
	"go.uber.org/fx"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	EventBus pkgif.EventBus
}

// ProvideEventBus 提供 EventBus
func ProvideEventBus() ModuleOutput {
	return ModuleOutput{EventBus: NewBus()}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("eventbus",
		fx.Provide(ProvideEventBus),
	)
}
