package retoro

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/retoro/go-retoro/internal/core/discovery"
	"github.com/retoro/go-retoro/internal/core/eventbus"
	"github.com/retoro/go-retoro/internal/core/holepunch"
	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/identity"
	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
	"github.com/retoro/go-retoro/internal/core/metrics"
	"github.com/retoro/go-retoro/internal/core/nat"
	"github.com/retoro/go-retoro/internal/core/protocol/identify"
	"github.com/retoro/go-retoro/internal/core/protocol/ping"
	"github.com/retoro/go-retoro/internal/core/relay"
	"github.com/retoro/go-retoro/internal/core/storage"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// components 从组件图取出的对象
type components struct {
	caps      pkgif.Capabilities
	collector *metrics.Collector
	nodes     *storage.Nodes
	channels  *storage.Channels
}

type capabilitiesInput struct {
	fx.In

	Host      pkgif.Host
	Discovery pkgif.Discovery
	PubSub    pkgif.PubSub
	Upgrade   pkgif.ConnectivityUpgrade
	PeerInfo  pkgif.PeerInfo
	Liveness  pkgif.Liveness
}

// provideCapabilities 组装能力表
func provideCapabilities(in capabilitiesInput) (pkgif.Capabilities, error) {
	caps := pkgif.Capabilities{
		Host:      in.Host,
		Discovery: in.Discovery,
		PubSub:    in.PubSub,
		Upgrade:   in.Upgrade,
		PeerInfo:  in.PeerInfo,
		Liveness:  in.Liveness,
	}
	return caps, caps.Validate()
}

// buildApp 构建组件图，只构造不启动
//
// 加载顺序（按依赖）：
//  1. Identity → EventBus → Metrics → Host
//  2. Identify / Ping → Gossipsub
//  3. Discovery → Relay → Holepunch → NAT
//  4. Storage
func buildApp(rc *resolvedConfig) (*fx.App, *components, error) {
	hostCfg := rc.hostConfig()
	identifyCfg := rc.identifyConfig()
	gossipCfg := rc.gossipConfig()
	discoveryCfg := rc.discoveryConfig()
	relayCfg := rc.relayConfig()
	holepunchCfg := rc.holepunchConfig()
	natCfg := rc.natConfig()
	clk := rc.Clock

	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),

		// 配置注入
		fx.Supply(
			&identity.Config{PrivateKey: rc.key},
			&hostCfg,
			&identifyCfg,
			&gossipCfg,
			&discoveryCfg,
			&relayCfg,
			&holepunchCfg,
			&natCfg,
		),
		fx.Provide(func() clock.Clock { return clk }),

		identity.Module(),
		eventbus.Module(),
		metrics.Module(),
		host.Module(),
		identify.Module(),
		ping.Module(),
		gossipsub.Module(),
		discovery.Module(),
		relay.Module(),
		holepunch.Module(),
		nat.Module(),
		storage.Module(),

		fx.Provide(provideCapabilities),
	}
	if reg := rc.MetricsRegisterer; reg != nil {
		opts = append(opts, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if sc := rc.storageConfig(); sc != nil {
		opts = append(opts, fx.Supply(sc))
	}
	opts = append(opts, rc.FxOptions...)

	c := &components{}
	opts = append(opts, fx.Populate(&c.caps, &c.collector, &c.nodes, &c.channels))

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: build components: %w", ErrSwarm, err)
	}
	return app, c, nil
}
