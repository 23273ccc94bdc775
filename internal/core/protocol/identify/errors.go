package identify

import "errors"

var (
	// ErrInvalidRecord 记录格式错误或缺少字段
	ErrInvalidRecord = errors.New("identify: invalid record")

	// ErrKeyMismatch 公钥与对端 PeerID 不符
	ErrKeyMismatch = errors.New("identify: public key does not match peer")
)
