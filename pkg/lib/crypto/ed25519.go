package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"io"
)

// Ed25519PrivateKey Ed25519 私钥
type Ed25519PrivateKey struct {
	k ed25519.PrivateKey
}

// Ed25519PublicKey Ed25519 公钥
type Ed25519PublicKey struct {
	k ed25519.PublicKey
}

// GenerateEd25519Key 生成 Ed25519 密钥对
func GenerateEd25519Key(src io.Reader) (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, err
	}
	return &Ed25519PrivateKey{k: priv}, &Ed25519PublicKey{k: pub}, nil
}

// NewEd25519PrivateKey 包装标准库私钥
func NewEd25519PrivateKey(k ed25519.PrivateKey) (*Ed25519PrivateKey, error) {
	if len(k) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	return &Ed25519PrivateKey{k: k}, nil
}

// Type 实现 Key
func (k *Ed25519PrivateKey) Type() KeyType { return KeyTypeEd25519 }

// Raw 返回 64 字节私钥（seed || pub）
func (k *Ed25519PrivateKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf, nil
}

// Seed 返回 32 字节种子
func (k *Ed25519PrivateKey) Seed() []byte {
	return k.k.Seed()
}

// Std 返回标准库私钥，供 TLS 证书和 Noise 密钥转换使用
func (k *Ed25519PrivateKey) Std() ed25519.PrivateKey {
	return k.k
}

// Equals 常数时间比较
func (k *Ed25519PrivateKey) Equals(o Key) bool {
	other, ok := o.(*Ed25519PrivateKey)
	if !ok {
		return basicEquals(k, o)
	}
	return subtle.ConstantTimeCompare(k.k, other.k) == 1
}

// Sign 签名
func (k *Ed25519PrivateKey) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.k, data), nil
}

// GetPublic 返回公钥
func (k *Ed25519PrivateKey) GetPublic() PublicKey {
	return &Ed25519PublicKey{k: k.k.Public().(ed25519.PublicKey)}
}

// Type 实现 Key
func (k *Ed25519PublicKey) Type() KeyType { return KeyTypeEd25519 }

// Raw 返回 32 字节公钥
func (k *Ed25519PublicKey) Raw() ([]byte, error) {
	buf := make([]byte, len(k.k))
	copy(buf, k.k)
	return buf, nil
}

// Std 返回标准库公钥
func (k *Ed25519PublicKey) Std() ed25519.PublicKey {
	return k.k
}

// Equals 比较
func (k *Ed25519PublicKey) Equals(o Key) bool {
	other, ok := o.(*Ed25519PublicKey)
	if !ok {
		return basicEquals(k, o)
	}
	return bytes.Equal(k.k, other.k)
}

// Verify 校验签名
func (k *Ed25519PublicKey) Verify(data, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: signature size %d", ErrInvalidKeySize, len(sig))
	}
	return ed25519.Verify(k.k, data, sig), nil
}

// UnmarshalEd25519PublicKey 从 32 字节还原公钥
func UnmarshalEd25519PublicKey(data []byte) (PublicKey, error) {
	if len(data) != ed25519.PublicKeySize {
		return nil, ErrInvalidKeySize
	}
	k := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(k, data)
	return &Ed25519PublicKey{k: k}, nil
}

// UnmarshalEd25519PrivateKey 从 64 字节私钥或 32 字节种子还原私钥
func UnmarshalEd25519PrivateKey(data []byte) (PrivateKey, error) {
	switch len(data) {
	case ed25519.SeedSize:
		return &Ed25519PrivateKey{k: ed25519.NewKeyFromSeed(data)}, nil
	case ed25519.PrivateKeySize:
		k := ed25519.NewKeyFromSeed(data[:ed25519.SeedSize])
		// 公钥部分必须与种子推导结果一致
		if subtle.ConstantTimeCompare(k[ed25519.SeedSize:], data[ed25519.SeedSize:]) != 1 {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrUnmarshalFailed)
		}
		return &Ed25519PrivateKey{k: k}, nil
	default:
		return nil, ErrInvalidKeySize
	}
}

func basicEquals(k1, k2 Key) bool {
	if k2 == nil || k1.Type() != k2.Type() {
		return false
	}
	a, err := k1.Raw()
	if err != nil {
		return false
	}
	b, err := k2.Raw()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
