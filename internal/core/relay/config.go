package relay

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

// Config 中继配置
type Config struct {
	// EnableClient 监听电路连接并在 StaticRelays 上预留（默认 true）
	EnableClient bool

	// EnableService 为其他节点提供中继（默认 false）
	EnableService bool

	// StaticRelays 客户端预留的中继
	StaticRelays []pkgif.AddrInfo

	// 服务端限制
	ReservationTTL     time.Duration // 预留有效期（默认 1h）
	MaxReservations    int           // 最大预留数（默认 128）
	MaxCircuits        int           // 最大活跃电路（0 = 不限制）
	MaxCircuitsPerPeer int           // 单节点最大活跃电路（0 = 不限制）
	MaxDuration        time.Duration // 单电路最长持续时间（0 = 不限制）

	// ConnectRate / ConnectBurst 单个源节点的 CONNECT 速率
	ConnectRate  rate.Limit
	ConnectBurst int

	// HandshakeTimeout 协议消息交换与连接升级超时
	HandshakeTimeout time.Duration

	// KeepRelayAfterHolePunch 打洞成功后保留中继连接
	KeepRelayAfterHolePunch bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		EnableClient:       true,
		ReservationTTL:     time.Hour,
		MaxReservations:    128,
		MaxCircuits:        128,
		MaxCircuitsPerPeer: 16,
		ConnectRate:        rate.Every(time.Second),
		ConnectBurst:       8,
		HandshakeTimeout:   15 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.ReservationTTL < time.Minute {
		return errors.New("relay: reservation TTL must be >= 1 minute")
	}
	if c.MaxReservations < 1 {
		return errors.New("relay: max reservations must be >= 1")
	}
	if c.MaxCircuits < 0 || c.MaxCircuitsPerPeer < 0 {
		return errors.New("relay: circuit limits must be >= 0")
	}
	if c.ConnectRate <= 0 || c.ConnectBurst < 1 {
		return errors.New("relay: connect rate must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("relay: handshake timeout must be positive")
	}
	return nil
}
