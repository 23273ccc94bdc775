package relay

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/host"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Host       pkgif.Host
	Identity   pkgif.Identity
	Config     *Config      `optional:"true"`
	HostConfig *host.Config `optional:"true"`
	Clock      clock.Clock  `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Client    *Client
	Service   *Service
	Transport *Transport
}

// ProvideServices 创建中继客户端、服务端与电路传输
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}
	if err := cfg.Validate(); err != nil {
		return ModuleOutput{}, err
	}
	hcfg := host.DefaultConfig()
	if input.HostConfig != nil {
		hcfg = *input.HostConfig
	}

	up, err := host.NewUpgrader(input.Identity, hcfg.Yamux)
	if err != nil {
		return ModuleOutput{}, err
	}
	out := ModuleOutput{
		Client:    NewClient(input.Host, cfg, input.Clock),
		Transport: NewTransport(input.Host, up, cfg),
	}
	if cfg.EnableService {
		if out.Service, err = NewService(input.Host, cfg, input.Clock); err != nil {
			return ModuleOutput{}, err
		}
	}
	return out, nil
}

type lifecycleInput struct {
	fx.In

	LC        fx.Lifecycle
	Host      pkgif.Host
	Config    *Config `optional:"true"`
	Client    *Client
	Service   *Service
	Transport *Transport
}

func registerLifecycle(input lifecycleInput) {
	cfg := DefaultConfig()
	if input.Config != nil {
		cfg = *input.Config
	}

	input.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if input.Service != nil {
				input.Service.Start()
			}
			if !cfg.EnableClient {
				return nil
			}
			input.Transport.Start()
			if err := input.Host.AddTransport(input.Transport); err != nil {
				return err
			}
			if err := input.Host.Listen(circuitListenAddr); err != nil {
				return err
			}
			input.Client.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			input.Client.Stop()
			if input.Service != nil {
				input.Service.Stop()
			}
			return nil
		},
	})
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideServices),
		fx.Invoke(registerLifecycle),
	)
}
