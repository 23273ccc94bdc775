// Package tcp TCP 传输
//
// 原始 TCP 连接经升级器完成 Noise 握手与 yamux 协商后交给 Host。
package tcp
