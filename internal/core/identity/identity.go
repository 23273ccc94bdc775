package identity

import (
	"errors"
	"fmt"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

// ErrNoKey 未提供私钥
var ErrNoKey = errors.New("identity: no private key")

// Identity 节点身份实现
type Identity struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
	id   types.PeerID
}

var _ pkgif.Identity = (*Identity)(nil)

// New 从私钥创建身份
func New(priv crypto.PrivateKey) (*Identity, error) {
	if priv == nil {
		return nil, ErrNoKey
	}
	pub := priv.GetPublic()
	id, err := crypto.PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	return &Identity{priv: priv, pub: pub, id: id}, nil
}

// Generate 生成新的 ed25519 身份
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv)
}

// FromBytes 从序列化的私钥创建身份
func FromBytes(data []byte) (*Identity, error) {
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, err
	}
	return New(priv)
}

// ID 返回 PeerID
func (i *Identity) ID() types.PeerID { return i.id }

// PublicKey 返回公钥
func (i *Identity) PublicKey() crypto.PublicKey { return i.pub }

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() crypto.PrivateKey { return i.priv }

// Sign 签名
func (i *Identity) Sign(data []byte) ([]byte, error) {
	return i.priv.Sign(data)
}
