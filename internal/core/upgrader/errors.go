package upgrader

import "errors"

var (
	// ErrNoSecurityTransport 未配置安全协议
	ErrNoSecurityTransport = errors.New("upgrader: no security transport")

	// ErrNoStreamMuxer 未配置多路复用器
	ErrNoStreamMuxer = errors.New("upgrader: no stream muxer")

	// ErrNegotiation 协议协商失败
	ErrNegotiation = errors.New("upgrader: negotiation failed")
)
