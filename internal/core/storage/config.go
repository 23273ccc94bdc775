package storage

import (
	"time"
)

// Config 存储配置
type Config struct {
	// Dir BadgerDB 数据目录（必需）
	Dir string

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔，0 表示关闭
	GCInterval time.Duration

	// GCDiscardRatio 值日志垃圾回收丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 返回指定目录的默认配置
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Dir == "" {
		return ErrInvalidConfig
	}
	if c.GCInterval < 0 || c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return ErrInvalidConfig
	}
	return nil
}
