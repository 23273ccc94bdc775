package noise

import "errors"

var (
	// ErrNilConn 连接为空
	ErrNilConn = errors.New("noise: conn is nil")

	// ErrPeerMismatch 对端身份与期望不符
	ErrPeerMismatch = errors.New("noise: peer id mismatch")

	// ErrInvalidPayload 握手 payload 无效
	ErrInvalidPayload = errors.New("noise: invalid handshake payload")

	// ErrInvalidSignature 静态密钥未绑定到身份密钥
	ErrInvalidSignature = errors.New("noise: static key not bound to identity key")
)
