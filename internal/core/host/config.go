package host

import (
	"errors"
	"time"

	"github.com/retoro/go-retoro/internal/core/muxer/yamux"
	"github.com/retoro/go-retoro/internal/core/transport/quic"
	"github.com/retoro/go-retoro/internal/core/transport/tcp"
)

// Config Host 配置
type Config struct {
	// DialTimeout 单次拨号超时
	DialTimeout time.Duration

	// IdleTimeout 空闲连接超时
	IdleTimeout time.Duration

	// NegotiationTimeout 入站流协议协商超时
	NegotiationTimeout time.Duration

	// ReapInterval 空闲检查间隔
	ReapInterval time.Duration

	// PeerstoreSize 地址簿容量
	PeerstoreSize int

	// EnableTCP / EnableQUIC 启用的直连传输
	EnableTCP  bool
	EnableQUIC bool

	TCP   tcp.Config
	QUIC  quic.Config
	Yamux yamux.Config
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:        15 * time.Second,
		IdleTimeout:        60 * time.Second,
		NegotiationTimeout: 10 * time.Second,
		ReapInterval:       10 * time.Second,
		PeerstoreSize:      1024,
		EnableTCP:          true,
		EnableQUIC:         true,
		TCP:                tcp.DefaultConfig(),
		QUIC:               quic.DefaultConfig(),
		Yamux:              yamux.DefaultConfig(),
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("host: dial timeout must be positive")
	}
	if c.IdleTimeout <= 0 || c.ReapInterval <= 0 {
		return errors.New("host: idle timeout and reap interval must be positive")
	}
	if c.NegotiationTimeout <= 0 {
		return errors.New("host: negotiation timeout must be positive")
	}
	if c.PeerstoreSize <= 0 {
		return errors.New("host: peerstore size must be positive")
	}
	if !c.EnableTCP && !c.EnableQUIC {
		return errors.New("host: at least one transport must be enabled")
	}
	return nil
}
