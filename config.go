package retoro

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/discovery"
	"github.com/retoro/go-retoro/internal/core/holepunch"
	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/identity"
	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
	"github.com/retoro/go-retoro/internal/core/nat"
	"github.com/retoro/go-retoro/internal/core/protocol/identify"
	"github.com/retoro/go-retoro/internal/core/relay"
	"github.com/retoro/go-retoro/internal/core/storage"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// 默认监听地址
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/tcp/5511",
	"/ip4/0.0.0.0/udp/5511/quic-v1",
}

// Config 节点配置
//
// 核心只接受已解码的密钥和地址字符串，不读取任何文件。
type Config struct {
	// Name 显示名称，默认 "Node-<uuid>"
	Name string

	// IdentityKey 序列化的私钥（crypto.MarshalPrivateKey 格式）
	IdentityKey []byte

	// Identity 私钥，优先于 IdentityKey；两者都为空时生成新密钥
	Identity crypto.PrivateKey

	ListenAddrs    []string
	BootstrapPeers []string

	// mDNS
	EnableMDNS     bool
	MDNSServiceTag string

	// 中继：StaticRelays 需带 /p2p/<id>
	StaticRelays       []string
	EnableRelayService bool

	// NAT
	EnableNATPortMap bool
	STUNServers      []string

	// DataDir 已知节点与频道的持久化目录，为空时不持久化
	DataDir string

	CommandQueueSize int
	EventBufferSize  int
	RecentMessages   int

	GossipHeartbeat time.Duration
	IdleTimeout     time.Duration

	// MetricsRegisterer 为 nil 时使用独立的注册表
	MetricsRegisterer prometheus.Registerer

	Clock clock.Clock

	// FxOptions 附加到组件图的 fx 选项
	FxOptions []fx.Option
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:             "Node-" + uuid.NewString(),
		ListenAddrs:      append([]string(nil), DefaultListenAddrs...),
		EnableMDNS:       true,
		MDNSServiceTag:   "_retoro._udp",
		CommandQueueSize: DefaultCommandQueueSize,
		EventBufferSize:  DefaultEventBufferSize,
		RecentMessages:   DefaultRecentMessages,
		GossipHeartbeat:  10 * time.Second,
		IdleTimeout:      60 * time.Second,
	}
}

// ============================================================================
//                              解析
// ============================================================================

// resolvedConfig 校验并解析后的配置
type resolvedConfig struct {
	Config

	key       crypto.PrivateKey
	listen    []multiaddr.Multiaddr
	bootstrap []multiaddr.Multiaddr
	relays    []pkgif.AddrInfo
}

// resolve 校验配置，解析地址与密钥
func (c *Config) resolve() (*resolvedConfig, error) {
	if len(c.ListenAddrs) == 0 {
		return nil, fmt.Errorf("%w: no listen addresses", ErrConfig)
	}
	if c.CommandQueueSize <= 0 || c.EventBufferSize <= 0 {
		return nil, fmt.Errorf("%w: queue sizes must be positive", ErrConfig)
	}
	if c.RecentMessages < 0 {
		return nil, fmt.Errorf("%w: negative recent message window", ErrConfig)
	}

	rc := &resolvedConfig{Config: *c}
	if rc.Name == "" {
		rc.Name = "Node-" + uuid.NewString()
	}
	if rc.Clock == nil {
		rc.Clock = clock.New()
	}

	var err error
	if rc.listen, err = multiaddr.ParseAll(c.ListenAddrs); err != nil {
		return nil, fmt.Errorf("%w: listen address: %w", ErrConfig, err)
	}
	for _, a := range rc.listen {
		if !a.IsTCP() && !a.IsQUIC() {
			return nil, fmt.Errorf("%w: unsupported listen address %s", ErrConfig, a)
		}
	}
	if rc.bootstrap, err = multiaddr.ParseAll(c.BootstrapPeers); err != nil {
		return nil, fmt.Errorf("%w: bootstrap address: %w", ErrConfig, err)
	}
	for _, s := range c.StaticRelays {
		a, err := multiaddr.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: relay address: %w", ErrConfig, err)
		}
		base, id, ok := a.SplitPeer()
		if !ok {
			return nil, fmt.Errorf("%w: relay address %s has no /p2p component", ErrConfig, s)
		}
		rc.relays = append(rc.relays, pkgif.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{base}})
	}

	switch {
	case c.Identity != nil:
		rc.key = c.Identity
	case c.IdentityKey != nil:
		if rc.key, err = crypto.UnmarshalPrivateKey(c.IdentityKey); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
		}
	default:
		if rc.key, _, err = crypto.GenerateKeyPair(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
		}
	}
	if _, err := identity.New(rc.key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentity, err)
	}

	if err := rc.hostConfig().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := rc.gossipConfig().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if rc.EnableMDNS {
		if err := rc.discoveryConfig().MDNS.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	if err := rc.natConfig().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return rc, nil
}

// ============================================================================
//                              组件配置
// ============================================================================

func (rc *resolvedConfig) hostConfig() host.Config {
	cfg := host.DefaultConfig()
	cfg.IdleTimeout = rc.IdleTimeout
	cfg.EnableTCP, cfg.EnableQUIC = false, false
	for _, a := range rc.listen {
		cfg.EnableTCP = cfg.EnableTCP || a.IsTCP()
		cfg.EnableQUIC = cfg.EnableQUIC || a.IsQUIC()
	}
	return cfg
}

func (rc *resolvedConfig) identifyConfig() identify.Config {
	cfg := identify.DefaultConfig()
	cfg.ProtocolVersion = ProtocolVersion
	cfg.AgentVersion = AgentVersion()
	cfg.DisplayName = rc.Name
	return cfg
}

func (rc *resolvedConfig) gossipConfig() gossipsub.Config {
	cfg := gossipsub.DefaultConfig()
	if rc.GossipHeartbeat > 0 {
		cfg.HeartbeatInterval = rc.GossipHeartbeat
	}
	return cfg
}

func (rc *resolvedConfig) discoveryConfig() discovery.Config {
	cfg := discovery.DefaultConfig()
	cfg.EnableMDNS = rc.EnableMDNS
	if rc.MDNSServiceTag != "" {
		cfg.MDNS.ServiceTag = rc.MDNSServiceTag
	}
	return cfg
}

func (rc *resolvedConfig) relayConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.EnableService = rc.EnableRelayService
	cfg.StaticRelays = rc.relays
	return cfg
}

func (rc *resolvedConfig) holepunchConfig() holepunch.Config {
	return holepunch.DefaultConfig()
}

func (rc *resolvedConfig) natConfig() nat.Config {
	cfg := nat.DefaultConfig()
	cfg.EnablePortMap = rc.EnableNATPortMap
	cfg.STUNServers = rc.STUNServers
	return cfg
}

// storageConfig 未设置 DataDir 时返回 nil
func (rc *resolvedConfig) storageConfig() *storage.Config {
	if rc.DataDir == "" {
		return nil
	}
	cfg := storage.DefaultConfig(filepath.Join(rc.DataDir, "db"))
	return &cfg
}
