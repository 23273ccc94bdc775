package interfaces

import (
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/types"
)

// Identity 节点身份
type Identity interface {
	// ID 返回节点 PeerID
	ID() types.PeerID

	// PublicKey 返回公钥
	PublicKey() crypto.PublicKey

	// PrivateKey 返回私钥
	PrivateKey() crypto.PrivateKey

	// Sign 使用身份私钥签名
	Sign(data []byte) ([]byte, error)
}
