// Package logger 提供 retoro 的分子系统日志
//
// 基于标准库 log/slog，每个包持有一个子系统 Logger：
//
//	var log = logger.Logger("gossipsub")
//
//	log.Info("加入主题", "topic", topic)
//
// 级别通过 RETORO_LOG_LEVEL 配置，格式为 "子系统=级别,...,默认级别"，
// 子系统名以 "." 分层，父子系统的级别对子系统生效：
//
//	RETORO_LOG_LEVEL=relay=debug,mdns=warn,info
//	RETORO_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

type entry struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	mu      sync.Mutex
	entries = make(map[string]*entry)
)

// Logger 返回子系统的 Logger，同名子系统共享同一实例
func Logger(subsystem string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if e, ok := entries[subsystem]; ok {
		return e.logger
	}

	cfg := ConfigFromEnv()
	level := new(slog.LevelVar)
	level.Set(cfg.LevelFor(subsystem))

	e := &entry{
		logger: slog.New(newHandler(subsystem, level, cfg)),
		level:  level,
	}
	entries[subsystem] = e
	return e.logger
}

// SetLevel 运行时调整子系统及其下级子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()

	prefix := subsystem + "."
	for name, e := range entries {
		if name == subsystem || len(name) > len(prefix) && name[:len(prefix)] == prefix {
			e.level.Set(level)
		}
	}
}

// SetAllLevels 调整所有已创建子系统的日志级别
func SetAllLevels(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()

	for _, e := range entries {
		e.level.Set(level)
	}
}

// SetOutput 替换全局日志输出，对已创建的 Logger 同样生效
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// Discard 返回丢弃所有输出的 Logger，用于测试
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
