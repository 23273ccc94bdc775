// Package identify 实现节点身份识别协议
//
// 连接建立后双方各自打开一条 identify 流，服务端写入一条记录后关闭：
//
//	1 protocol_version  string
//	2 agent_version     string
//	3 display_name      string
//	4 public_key        bytes（crypto.MarshalPublicKey）
//	5 listen_addrs      repeated bytes（multiaddr 二进制）
//	6 observed_addr     bytes
//	7 protocols         repeated string
//
// 客户端校验公钥与对端 PeerID 一致，把监听地址写入地址簿，
// 并通过 EvtIdentifyCompleted 发布结果。
package identify
