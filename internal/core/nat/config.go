package nat

import (
	"errors"
	"time"
)

// Config NAT 配置
type Config struct {
	// EnablePortMap 启用 UPnP / NAT-PMP 端口映射
	EnablePortMap bool

	// STUNServers host:port 形式，可带 stun: 前缀
	STUNServers []string

	// MappingLifetime 映射租期
	MappingLifetime time.Duration

	// RefreshInterval 续租与重新探测的间隔
	RefreshInterval time.Duration

	// DiscoveryTimeout 网关发现超时
	DiscoveryTimeout time.Duration

	// STUNTimeout 单次 STUN 请求超时
	STUNTimeout time.Duration
}

// DefaultConfig 返回默认配置（全部关闭）
func DefaultConfig() Config {
	return Config{
		MappingLifetime:  time.Hour,
		RefreshInterval:  20 * time.Minute,
		DiscoveryTimeout: 10 * time.Second,
		STUNTimeout:      5 * time.Second,
	}
}

// Enabled 是否需要运行服务
func (c Config) Enabled() bool {
	return c.EnablePortMap || len(c.STUNServers) > 0
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.MappingLifetime <= 0:
		return errors.New("nat: mapping lifetime must be positive")
	case c.RefreshInterval <= 0 || c.RefreshInterval >= c.MappingLifetime:
		return errors.New("nat: refresh interval must be shorter than the mapping lifetime")
	case c.DiscoveryTimeout <= 0 || c.STUNTimeout <= 0:
		return errors.New("nat: timeouts must be positive")
	}
	return nil
}
