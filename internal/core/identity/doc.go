// Package identity 提供节点身份
//
// 身份由 ed25519 密钥对与由公钥导出的 PeerID 组成，创建后不可变。
package identity
