package identify

import (
	"fmt"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

// maxMessageSize identify 记录上限
const maxMessageSize = 64 << 10

// record identify 线上记录
type record struct {
	info   pkgif.IdentifyInfo
	pubKey []byte
}

func (r *record) marshal() []byte {
	var b []byte
	b = wire.AppendString(b, 1, r.info.ProtocolVersion)
	b = wire.AppendString(b, 2, r.info.AgentVersion)
	if r.info.DisplayName != "" {
		b = wire.AppendString(b, 3, r.info.DisplayName)
	}
	b = wire.AppendBytes(b, 4, r.pubKey)
	for _, a := range r.info.ListenAddrs {
		b = wire.AppendBytes(b, 5, a.Bytes())
	}
	if !r.info.ObservedAddr.IsEmpty() {
		b = wire.AppendBytes(b, 6, r.info.ObservedAddr.Bytes())
	}
	for _, p := range r.info.Protocols {
		b = wire.AppendString(b, 7, string(p))
	}
	return b
}

// unmarshalRecord 解码记录，无法解析的地址被跳过
func unmarshalRecord(data []byte) (*record, error) {
	r := &record{}
	rd := wire.NewReader(data)
	for rd.Next() {
		switch rd.Field() {
		case 1:
			r.info.ProtocolVersion = rd.String()
		case 2:
			r.info.AgentVersion = rd.String()
		case 3:
			r.info.DisplayName = rd.String()
		case 4:
			r.pubKey = rd.Bytes()
		case 5:
			if a, err := multiaddr.FromBytes(rd.Bytes()); err == nil {
				r.info.ListenAddrs = append(r.info.ListenAddrs, a)
			}
		case 6:
			if a, err := multiaddr.FromBytes(rd.Bytes()); err == nil {
				r.info.ObservedAddr = a
			}
		case 7:
			r.info.Protocols = append(r.info.Protocols, types.ProtocolID(rd.String()))
		default:
			rd.Skip()
		}
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	if len(r.pubKey) == 0 {
		return nil, fmt.Errorf("%w: missing public key", ErrInvalidRecord)
	}
	return r, nil
}

// publicKey 解出公钥
func (r *record) publicKey() (crypto.PublicKey, error) {
	key, err := crypto.UnmarshalPublicKey(r.pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return key, nil
}
