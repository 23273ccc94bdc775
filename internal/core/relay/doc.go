// Package relay 实现中继电路
//
// 两个协议：
//   - HOP  /retoro/relay/hop/1.0.0：客户端向中继发起 RESERVE（预留）或 CONNECT（经中继连接目标）
//   - STOP /retoro/relay/stop/1.0.0：中继向目标转达 CONNECT
//
// 服务端（Service）保存预留并在 HOP 与 STOP 两条流之间转发字节；
// 客户端（Client）在配置的中继上保持预留；电路传输（Transport）
// 把电路流当作原始连接，经 Noise + yamux 升级为普通的 Host 连接。
//
// 电路地址形如：
//
//	/ip4/203.0.113.1/tcp/5511/p2p/<relay>/p2p-circuit/p2p/<target>
package relay
