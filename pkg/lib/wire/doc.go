// Package wire 提供 retoro 协议报文的编码工具
//
// 所有协议报文（聊天消息、gossip RPC、identify、relay、holepunch）
// 都是 protobuf 线格式的记录，使用 protowire 直接编解码；
// 流上以 unsigned varint 长度前缀分帧。
package wire
