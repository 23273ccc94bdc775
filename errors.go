package retoro

import (
	"errors"
	"fmt"

	"github.com/retoro/go-retoro/internal/core/eventbus"
)

// 错误类别，使用 errors.Is 判断
var (
	// ErrConfig 配置缺失或无效
	ErrConfig = errors.New("config error")

	// ErrSwarm 网络组合或运行期 I/O 失败：监听、拨号、发布、订阅
	ErrSwarm = errors.New("swarm error")

	// ErrIdentity 密钥解码或生成失败
	ErrIdentity = errors.New("identity error")

	// ErrTransmission 运行时已停止或句柄已关闭，命令无法投递
	ErrTransmission = errors.New("transmission error")

	// ErrUnsupported 命令尚未实现，同时满足 errors.Is(err, errors.ErrUnsupported)
	ErrUnsupported = fmt.Errorf("retoro: %w", errors.ErrUnsupported)

	// ErrAlreadyRunning Run 只能调用一次
	ErrAlreadyRunning = errors.New("node already running")

	// ErrQueueFull TrySend 时命令队列已满
	ErrQueueFull = errors.New("command queue full")

	// ErrMalformedMessage 消息无法编码或解码
	ErrMalformedMessage = errors.New("malformed message")
)

// ErrEventsClosed 节点已停止且订阅缓冲已读完
var ErrEventsClosed = eventbus.ErrClosed

// ErrLagged 订阅者落后，部分事件被丢弃
var ErrLagged = eventbus.ErrLagged

// ErrNoEvent TryRecv 时缓冲中没有事件
var ErrNoEvent = eventbus.ErrEmpty

// LaggedError 报告自上次读取以来被丢弃的事件数，errors.Is(err, ErrLagged) 成立
type LaggedError = eventbus.LaggedError
