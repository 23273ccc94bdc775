package yamux

import (
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// Config 复用器配置
type Config struct {
	// AcceptBacklog 未接受的入站流上限
	AcceptBacklog int

	// KeepAliveInterval 会话保活间隔，0 表示关闭保活
	KeepAliveInterval time.Duration

	// ConnectionWriteTimeout 写超时
	ConnectionWriteTimeout time.Duration

	// MaxStreamWindowSize 单流接收窗口
	MaxStreamWindowSize uint32

	// StreamOpenTimeout 打开流等待 ACK 的超时
	StreamOpenTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		AcceptBacklog:          256,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    16 * 1024 * 1024,
		StreamOpenTimeout:      75 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.AcceptBacklog <= 0 {
		return errors.New("yamux: accept backlog must be positive")
	}
	if c.MaxStreamWindowSize < 256*1024 {
		return errors.New("yamux: stream window must be at least 256KiB")
	}
	if c.ConnectionWriteTimeout <= 0 {
		return errors.New("yamux: write timeout must be positive")
	}
	return nil
}

// toYamux 转换为 yamux 原生配置
func (c Config) toYamux() *yamux.Config {
	yc := yamux.DefaultConfig()
	yc.AcceptBacklog = c.AcceptBacklog
	yc.EnableKeepAlive = c.KeepAliveInterval > 0
	if yc.EnableKeepAlive {
		yc.KeepAliveInterval = c.KeepAliveInterval
	}
	yc.ConnectionWriteTimeout = c.ConnectionWriteTimeout
	yc.MaxStreamWindowSize = c.MaxStreamWindowSize
	yc.StreamOpenTimeout = c.StreamOpenTimeout
	yc.LogOutput = io.Discard
	return yc
}
