package crypto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldKeyType protowire.Number = 1
	fieldKeyData protowire.Number = 2
)

// MarshalPublicKey 序列化公钥
func MarshalPublicKey(key PublicKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPublicKey
	}
	return marshalKey(key)
}

// MarshalPrivateKey 序列化私钥
func MarshalPrivateKey(key PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPrivateKey
	}
	return marshalKey(key)
}

// UnmarshalPublicKey 反序列化公钥
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	kt, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	if kt != KeyTypeEd25519 {
		return nil, ErrBadKeyType
	}
	return UnmarshalEd25519PublicKey(raw)
}

// UnmarshalPrivateKey 反序列化私钥
func UnmarshalPrivateKey(data []byte) (PrivateKey, error) {
	kt, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	if kt != KeyTypeEd25519 {
		return nil, ErrBadKeyType
	}
	return UnmarshalEd25519PrivateKey(raw)
}

func marshalKey(key Key) ([]byte, error) {
	raw, err := key.Raw()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(raw)+4)
	b = protowire.AppendTag(b, fieldKeyType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(key.Type()))
	b = protowire.AppendTag(b, fieldKeyData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b, nil
}

func unmarshalKey(data []byte) (KeyType, []byte, error) {
	var (
		kt      KeyType
		raw     []byte
		seenRaw bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldKeyType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			kt = KeyType(v)
			n = m
		case num == fieldKeyData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			raw, seenRaw = v, true
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	if !seenRaw {
		return 0, nil, fmt.Errorf("%w: missing key data", ErrUnmarshalFailed)
	}
	return kt, raw, nil
}
