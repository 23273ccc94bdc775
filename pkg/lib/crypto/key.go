package crypto

import (
	"crypto/rand"
	"io"
)

// KeyType 密钥类型，取值与 libp2p KeyType 枚举一致
type KeyType int

const (
	// KeyTypeEd25519 Ed25519 密钥
	KeyTypeEd25519 KeyType = 1
)

// String 返回密钥类型名称
func (kt KeyType) String() string {
	if kt == KeyTypeEd25519 {
		return "Ed25519"
	}
	return "Unknown"
}

// Key 基础密钥接口
type Key interface {
	// Raw 返回原始密钥字节
	Raw() ([]byte, error)

	// Type 返回密钥类型
	Type() KeyType

	// Equals 比较两个密钥
	Equals(Key) bool
}

// PublicKey 公钥
type PublicKey interface {
	Key

	// Verify 校验签名
	Verify(data, sig []byte) (bool, error)
}

// PrivateKey 私钥
type PrivateKey interface {
	Key

	// Sign 对数据签名
	Sign(data []byte) ([]byte, error)

	// GetPublic 返回对应的公钥
	GetPublic() PublicKey
}

// GenerateKeyPair 生成 Ed25519 密钥对
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	return GenerateEd25519Key(rand.Reader)
}

// GenerateKeyPairWithReader 使用指定随机源生成密钥对，测试中用于确定性生成
func GenerateKeyPairWithReader(reader io.Reader) (PrivateKey, PublicKey, error) {
	return GenerateEd25519Key(reader)
}
