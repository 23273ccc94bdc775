// Package upgrader 把原始字节流连接升级为 CapableConn
//
// 升级流程：
//  1. multistream-select 协商安全协议
//  2. 安全握手（Noise）
//  3. multistream-select 协商多路复用器
//  4. 建立多路复用会话（yamux）
//
// QUIC 自带加密与流复用，不经过升级器。
package upgrader
