package host

import "errors"

var (
	// ErrClosed 主机已关闭
	ErrClosed = errors.New("host closed")

	// ErrNoTransport 没有传输能处理该地址
	ErrNoTransport = errors.New("no transport for address")

	// ErrNoAddresses 节点没有可拨号的地址
	ErrNoAddresses = errors.New("no addresses for peer")

	// ErrDialSelf 拨号自身
	ErrDialSelf = errors.New("dial to self attempted")

	// ErrAllDialsFailed 所有地址拨号失败
	ErrAllDialsFailed = errors.New("all dials failed")

	// ErrNoListenAddrs 未提供监听地址
	ErrNoListenAddrs = errors.New("no listen addresses")
)
