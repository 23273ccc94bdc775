package multiaddr

import "errors"

var (
	// ErrEmpty 空地址
	ErrEmpty = errors.New("multiaddr: empty address")

	// ErrInvalid 地址格式无效
	ErrInvalid = errors.New("multiaddr: invalid address")

	// ErrUnknownProtocol 未知协议
	ErrUnknownProtocol = errors.New("multiaddr: unknown protocol")

	// ErrNotThinWaist 不是 IP/DNS + TCP/UDP 形式的地址
	ErrNotThinWaist = errors.New("multiaddr: not an ip/dns + tcp/udp address")
)
