package retoro

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
)

// Option 配置选项
type Option func(*Config) error

// WithName 设置显示名称
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("%w: empty name", ErrConfig)
		}
		c.Name = name
		return nil
	}
}

// WithIdentity 使用给定私钥
func WithIdentity(key crypto.PrivateKey) Option {
	return func(c *Config) error {
		if key == nil {
			return fmt.Errorf("%w: nil private key", ErrIdentity)
		}
		c.Identity = key
		return nil
	}
}

// WithIdentityKey 使用序列化的私钥，解码在 New 中进行
func WithIdentityKey(b []byte) Option {
	return func(c *Config) error {
		c.IdentityKey = b
		return nil
	}
}

// WithListenAddrs 替换监听地址
func WithListenAddrs(addrs ...string) Option {
	return func(c *Config) error {
		c.ListenAddrs = addrs
		return nil
	}
}

// WithBootstrapPeers 设置启动时拨号一次的节点
func WithBootstrapPeers(addrs ...string) Option {
	return func(c *Config) error {
		c.BootstrapPeers = addrs
		return nil
	}
}

// WithMDNS 启用或关闭局域网发现
func WithMDNS(enable bool) Option {
	return func(c *Config) error {
		c.EnableMDNS = enable
		return nil
	}
}

// WithMDNSServiceTag 设置 mDNS 服务标签
func WithMDNSServiceTag(tag string) Option {
	return func(c *Config) error {
		if tag == "" {
			return fmt.Errorf("%w: empty mdns service tag", ErrConfig)
		}
		c.MDNSServiceTag = tag
		return nil
	}
}

// WithStaticRelays 设置预留的中继，地址需带 /p2p/<id>
func WithStaticRelays(addrs ...string) Option {
	return func(c *Config) error {
		c.StaticRelays = addrs
		return nil
	}
}

// WithRelayService 为其他节点提供中继
func WithRelayService(enable bool) Option {
	return func(c *Config) error {
		c.EnableRelayService = enable
		return nil
	}
}

// WithNATPortMap 启用 UPnP / NAT-PMP 端口映射
func WithNATPortMap(enable bool) Option {
	return func(c *Config) error {
		c.EnableNATPortMap = enable
		return nil
	}
}

// WithSTUNServers 设置 STUN 服务器（host:port）
func WithSTUNServers(servers ...string) Option {
	return func(c *Config) error {
		c.STUNServers = servers
		return nil
	}
}

// WithDataDir 持久化已知节点与频道
func WithDataDir(dir string) Option {
	return func(c *Config) error {
		c.DataDir = dir
		return nil
	}
}

// WithCommandQueueSize 设置命令队列容量
func WithCommandQueueSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: command queue size %d", ErrConfig, n)
		}
		c.CommandQueueSize = n
		return nil
	}
}

// WithEventBufferSize 设置每个订阅者的事件缓冲容量
func WithEventBufferSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: event buffer size %d", ErrConfig, n)
		}
		c.EventBufferSize = n
		return nil
	}
}

// WithRecentMessages 设置每个频道保留的消息数，0 表示不保留
func WithRecentMessages(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("%w: recent messages %d", ErrConfig, n)
		}
		c.RecentMessages = n
		return nil
	}
}

// WithGossipHeartbeat 设置 gossip 心跳间隔
func WithGossipHeartbeat(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: heartbeat %s", ErrConfig, d)
		}
		c.GossipHeartbeat = d
		return nil
	}
}

// WithIdleTimeout 设置空闲连接超时
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: idle timeout %s", ErrConfig, d)
		}
		c.IdleTimeout = d
		return nil
	}
}

// WithMetricsRegisterer 把指标注册到给定注册表
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.MetricsRegisterer = reg
		return nil
	}
}

// WithClock 替换时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		c.Clock = clk
		return nil
	}
}

// WithFxOptions 附加 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(c *Config) error {
		c.FxOptions = append(c.FxOptions, opts...)
		return nil
	}
}
