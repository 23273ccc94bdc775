package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519_SignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("hello retoro")
	sig, err := priv.Sign(data)
	require.NoError(t, err)

	ok, err := pub.Verify(data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pub.Verify([]byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = pub.Verify(data, sig[:10])
	assert.Error(t, err)
}

func TestMarshal_PublicAndPrivate(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	pubBytes, err := MarshalPublicKey(pub)
	require.NoError(t, err)
	pub2, err := UnmarshalPublicKey(pubBytes)
	require.NoError(t, err)
	assert.True(t, pub.Equals(pub2))

	privBytes, err := MarshalPrivateKey(priv)
	require.NoError(t, err)
	priv2, err := UnmarshalPrivateKey(privBytes)
	require.NoError(t, err)
	assert.True(t, priv.Equals(priv2))
}

func TestUnmarshal_Rejects(t *testing.T) {
	_, err := UnmarshalPublicKey([]byte{0xff})
	assert.ErrorIs(t, err, ErrUnmarshalFailed)

	_, err = UnmarshalPublicKey([]byte{0x08, 0x01})
	assert.ErrorIs(t, err, ErrUnmarshalFailed, "缺少密钥数据")

	// type=2 (未支持)
	_, err = UnmarshalPublicKey([]byte{0x08, 0x02, 0x12, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrBadKeyType)

	_, err = MarshalPublicKey(nil)
	assert.ErrorIs(t, err, ErrNilPublicKey)
}

func TestUnmarshalEd25519PrivateKey_Seed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	k1, err := UnmarshalEd25519PrivateKey(seed)
	require.NoError(t, err)

	raw, err := k1.Raw()
	require.NoError(t, err)
	k2, err := UnmarshalEd25519PrivateKey(raw)
	require.NoError(t, err)
	assert.True(t, k1.Equals(k2))

	raw[63] ^= 1
	_, err = UnmarshalEd25519PrivateKey(raw)
	assert.ErrorIs(t, err, ErrUnmarshalFailed)

	_, err = UnmarshalEd25519PrivateKey(seed[:5])
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestPeerID_Deterministic(t *testing.T) {
	priv, pub, err := GenerateKeyPairWithReader(bytes.NewReader(bytes.Repeat([]byte{1}, 64)))
	require.NoError(t, err)

	id1, err := PeerIDFromPublicKey(pub)
	require.NoError(t, err)
	id2, err := PeerIDFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.NoError(t, VerifyPeerID(pub, id1))

	_, other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Error(t, VerifyPeerID(other, id1))
}

func TestKeyFile_Plain(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	content, err := EncodeKeyFile(priv, nil)
	require.NoError(t, err)
	got, err := DecodeKeyFile(content, nil)
	require.NoError(t, err)
	assert.True(t, priv.Equals(got))
}

func TestKeyFile_Encrypted(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	require.NoError(t, err)

	content, err := EncodeKeyFile(priv, []byte("secret"))
	require.NoError(t, err)

	_, err = DecodeKeyFile(content, nil)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = DecodeKeyFile(content, []byte("wrong"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	got, err := DecodeKeyFile(content, []byte("secret"))
	require.NoError(t, err)
	assert.True(t, priv.Equals(got))
}

func TestKeyFile_InvalidHeader(t *testing.T) {
	_, err := DecodeKeyFile([]byte("NOT-A-KEY-FILE"), nil)
	assert.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	k1, created, err := LoadOrCreateKeyFile(path, []byte("pw"))
	require.NoError(t, err)
	assert.True(t, created)

	k2, created, err := LoadOrCreateKeyFile(path, []byte("pw"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, k1.Equals(k2))
}
