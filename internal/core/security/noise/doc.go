// Package noise 实现 Noise XX 安全握手
//
// 握手流程：
//
//	-> e
//	<- e, ee, s, es, payload
//	-> s, se, payload
//
// payload 为 protowire 记录：
//
//	1: identity_key  序列化的 ed25519 身份公钥
//	2: identity_sig  Sign("retoro-noise-static-key:" || curve25519 静态公钥)
//
// 静态 DH 密钥由身份密钥转换得到，握手后双方都验证对端的身份绑定。
// 握手完成后的数据以 2 字节长度前缀的密文帧传输。
package noise
