// Package multiaddr 实现 retoro 使用的 multiaddr 子集
//
// 支持的协议：ip4、ip6、dns、dns4、dns6、tcp、udp、quic-v1、p2p、p2p-circuit。
// 文本形式如 /ip4/1.2.3.4/tcp/5511/p2p/<PeerID>；二进制形式与
// multiformats 规范一致（varint 协议码 + 值），用于 identify 和 holepunch 报文。
//
// Multiaddr 是不可变值类型，零值表示空地址。
package multiaddr
