package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget 电路地址缺少目标节点
	ErrNoTarget = errors.New("relay: circuit address has no target peer")

	// ErrInvalidAddr 不是电路地址
	ErrInvalidAddr = errors.New("relay: invalid circuit address")

	// ErrUnexpectedMessage 收到意外的消息类型
	ErrUnexpectedMessage = errors.New("relay: unexpected message")

	// ErrNoListener 没有电路监听器接收入站电路
	ErrNoListener = errors.New("relay: not listening for circuits")

	// ErrClosed 已关闭
	ErrClosed = errors.New("relay: closed")
)

// StatusError 对端返回的非 OK 状态
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: %s", e.Status)
}
