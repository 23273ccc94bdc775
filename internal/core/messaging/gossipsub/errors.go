package gossipsub

import "errors"

var (
	// ErrNotSubscribed 未加入主题
	ErrNotSubscribed = errors.New("gossipsub: not subscribed to topic")

	// ErrInsufficientPeers 没有可发送的节点
	ErrInsufficientPeers = errors.New("gossipsub: no peers subscribed to topic")

	// ErrEmptyTopic 主题名为空
	ErrEmptyTopic = errors.New("gossipsub: empty topic")

	// ErrMessageTooLarge 消息超过帧上限
	ErrMessageTooLarge = errors.New("gossipsub: message too large")

	// ErrClosed 路由器已停止
	ErrClosed = errors.New("gossipsub: router closed")
)

// 校验失败原因，只用于日志与指标
var (
	errNoSignature  = errors.New("missing signature or key")
	errBadFrom      = errors.New("malformed source")
	errBadSeqno     = errors.New("malformed seqno")
	errKeyMismatch  = errors.New("key does not match source")
	errBadSignature = errors.New("invalid signature")
	errSelfOrigin   = errors.New("own message")
)
