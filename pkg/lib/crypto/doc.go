// Package crypto 提供 retoro 的密钥与身份工具
//
// 仅支持 Ed25519：节点身份、Noise 静态密钥绑定、QUIC 证书和
// pubsub 消息签名都使用同一把 Ed25519 密钥。
//
// 序列化格式与 libp2p 的 PublicKey/PrivateKey protobuf 兼容：
//
//	field 1 (varint): KeyType
//	field 2 (bytes):  原始密钥
//
// PeerID = SHA256(MarshalPublicKey(pub))，外部以 Base58 表示。
package crypto
