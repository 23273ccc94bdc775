package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Registerer prometheus.Registerer `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Collector      *Collector
	HostReporter   host.Reporter
	GossipReporter gossipsub.Reporter
}

// ProvideCollector 创建 Collector 并以各组件的 Reporter 接口提供
func ProvideCollector(input ModuleInput) ModuleOutput {
	c := New(input.Registerer)
	return ModuleOutput{Collector: c, HostReporter: c, GossipReporter: c}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics", fx.Provide(ProvideCollector))
}

var (
	_ host.Reporter      = (*Collector)(nil)
	_ gossipsub.Reporter = (*Collector)(nil)
)
