// Package yamux 基于 hashicorp/yamux 的流多路复用
//
// TCP 与中继电路连接在 Noise 握手之后协商本复用器；QUIC 自带流复用不经过此包。
package yamux
