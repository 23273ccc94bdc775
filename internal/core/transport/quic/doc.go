// Package quic QUIC 传输
//
// QUIC 自带 TLS 1.3 与流复用，连接不经过升级器。证书由身份私钥自签，
// 对端 PeerID 从证书中的 ed25519 公钥派生。每个监听地址持有一个共享的
// UDP socket，出站连接优先复用同族 socket，使对端观测到的端口与监听端口一致。
package quic
