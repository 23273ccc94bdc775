package mdns

import (
	"errors"
	"time"
)

// Config mDNS 发现配置
type Config struct {
	// ServiceTag 服务标签，区分不同网络
	ServiceTag string

	// Domain 域名
	Domain string

	// QueryInterval 查询间隔
	QueryInterval time.Duration

	// QueryTimeout 单次查询等待应答的时间
	QueryTimeout time.Duration

	// TTL 超过该时间未再应答的节点过期
	TTL time.Duration

	// Interface 指定网络接口（空表示所有接口）
	Interface string

	// DisableIPv6 禁用 IPv6
	DisableIPv6 bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ServiceTag:    "_retoro._udp",
		Domain:        "local.",
		QueryInterval: 10 * time.Second,
		QueryTimeout:  3 * time.Second,
		TTL:           2 * time.Minute,
		DisableIPv6:   true,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.ServiceTag == "":
		return errors.New("mdns: empty service tag")
	case c.QueryInterval <= 0:
		return errors.New("mdns: query interval must be positive")
	case c.QueryTimeout <= 0 || c.QueryTimeout > c.QueryInterval:
		return errors.New("mdns: query timeout must be within the query interval")
	case c.TTL < c.QueryInterval:
		return errors.New("mdns: ttl shorter than the query interval")
	}
	return nil
}
