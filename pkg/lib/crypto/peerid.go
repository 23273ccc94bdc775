package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/retoro/go-retoro/pkg/types"
)

// PeerIDFromPublicKey 派生 PeerID：SHA256(MarshalPublicKey(pub))
func PeerIDFromPublicKey(pub PublicKey) (types.PeerID, error) {
	data, err := MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return types.PeerID(sha256.Sum256(data)), nil
}

// PeerIDFromPrivateKey 从私钥派生 PeerID
func PeerIDFromPrivateKey(priv PrivateKey) (types.PeerID, error) {
	if priv == nil {
		return types.EmptyPeerID, ErrNilPrivateKey
	}
	return PeerIDFromPublicKey(priv.GetPublic())
}

// VerifyPeerID 检查公钥是否派生出给定 PeerID
func VerifyPeerID(pub PublicKey, id types.PeerID) error {
	derived, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return err
	}
	if derived != id {
		return fmt.Errorf("peer id mismatch: key derives %s, expected %s", derived.ShortString(), id.ShortString())
	}
	return nil
}
