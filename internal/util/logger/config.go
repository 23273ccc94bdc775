package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLogLevel     = "RETORO_LOG_LEVEL"
	EnvLogFormat    = "RETORO_LOG_FORMAT"
	EnvLogAddSource = "RETORO_LOG_ADD_SOURCE"
)

// Format 日志输出格式
type Format int

const (
	// FormatText 文本格式（默认）
	FormatText Format = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 未单独配置的子系统使用的级别
	DefaultLevel slog.Level

	// SubsystemLevels 子系统级别，支持前缀匹配（"relay" 覆盖 "relay.client"）
	SubsystemLevels map[string]slog.Level

	Format    Format
	AddSource bool
}

// LevelFor 返回子系统的日志级别
//
// 先精确匹配，再按 "." 逐级回退到父子系统，最后使用默认级别。
func (c *Config) LevelFor(subsystem string) slog.Level {
	for name := subsystem; name != ""; {
		if level, ok := c.SubsystemLevels[name]; ok {
			return level
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return c.DefaultLevel
}

var (
	envConfig     *Config
	envConfigOnce sync.Once
)

// ConfigFromEnv 返回从环境变量解析的配置（只解析一次）
//
//	RETORO_LOG_LEVEL=gossipsub=debug,mdns=warn,info
//	RETORO_LOG_FORMAT=json
//	RETORO_LOG_ADD_SOURCE=true
func ConfigFromEnv() *Config {
	envConfigOnce.Do(func() {
		envConfig = ParseConfig(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat), os.Getenv(EnvLogAddSource))
	})
	return envConfig
}

// ParseConfig 解析日志配置字符串
func ParseConfig(levels, format, addSource string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, levelName, scoped := strings.Cut(part, "=")
		if !scoped {
			if level, ok := ParseLevel(part); ok {
				cfg.DefaultLevel = level
			}
			continue
		}
		if level, ok := ParseLevel(levelName); ok {
			cfg.SubsystemLevels[strings.TrimSpace(name)] = level
		}
	}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg.Format = FormatJSON
	}

	switch strings.ToLower(strings.TrimSpace(addSource)) {
	case "1", "true", "yes":
		cfg.AddSource = true
	}

	return cfg
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// resetConfig 仅用于测试
func resetConfig() {
	envConfigOnce = sync.Once{}
	envConfig = nil
}
