package eventbus

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrNonPointerType 非指针类型
	ErrNonPointerType = errors.New("subscribe called with non-pointer type")

	// ErrEmitterClosed 发射器已关闭
	ErrEmitterClosed = errors.New("emitter is closed")

	// ErrClosed 广播器已关闭且缓冲已读完
	ErrClosed = errors.New("broadcaster closed")

	// ErrLagged 订阅者落后，部分事件被丢弃
	ErrLagged = errors.New("subscriber lagged")

	// ErrEmpty TryRecv 时没有可读的事件
	ErrEmpty = errors.New("no event available")
)

// LaggedError 报告订阅者自上次读取以来被丢弃的事件数
type LaggedError struct {
	Dropped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged: %d events dropped", e.Dropped)
}

// Unwrap 使 errors.Is(err, ErrLagged) 成立
func (e *LaggedError) Unwrap() error {
	return ErrLagged
}
