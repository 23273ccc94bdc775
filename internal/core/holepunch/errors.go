package holepunch

import "errors"

var (
	// ErrNoAddrs 没有可交换的直连地址
	ErrNoAddrs = errors.New("holepunch: no direct addresses")

	// ErrNotConnected 没有到节点的连接
	ErrNotConnected = errors.New("holepunch: not connected to peer")

	// ErrUnexpectedMessage 收到意外的消息类型
	ErrUnexpectedMessage = errors.New("holepunch: unexpected message")

	// ErrInProgress 已有进行中的打洞
	ErrInProgress = errors.New("holepunch: already in progress")

	// ErrFailed 所有尝试均失败
	ErrFailed = errors.New("holepunch: all attempts failed")
)
