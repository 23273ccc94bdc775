package holepunch

import (
	"io"

	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

// ProtocolID 打洞协议 ID
const ProtocolID = types.ProtocolID("/retoro/dcutr/1.0.0")

// maxMessageSize 消息上限
const maxMessageSize = 4 << 10

// maxAddrs 单条消息携带的最大地址数
const maxAddrs = 16

// msgType 消息类型
type msgType uint64

const (
	msgConnect msgType = 100
	msgSync    msgType = 300
)

// message 打洞消息
//
//	1 type      uvarint
//	2 obs_addrs repeated bytes
type message struct {
	Type  msgType
	Addrs []multiaddr.Multiaddr
}

func (m *message) marshal() []byte {
	var b []byte
	b = wire.AppendUvarint(b, 1, uint64(m.Type))
	for i, a := range m.Addrs {
		if i == maxAddrs {
			break
		}
		b = wire.AppendBytes(b, 2, a.Bytes())
	}
	return b
}

func unmarshalMessage(data []byte) (*message, error) {
	m := &message{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Type = msgType(r.Uvarint())
		case 2:
			raw := r.Bytes()
			if len(m.Addrs) >= maxAddrs {
				continue
			}
			if a, err := multiaddr.FromBytes(raw); err == nil {
				m.Addrs = append(m.Addrs, a)
			}
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func writeMessage(w io.Writer, m *message) error {
	return wire.WriteFrame(w, m.marshal())
}

// readMessage 读取消息并检查类型
func readMessage(r io.Reader, want msgType) (*message, error) {
	data, err := wire.ReadFrame(r, maxMessageSize)
	if err != nil {
		return nil, err
	}
	m, err := unmarshalMessage(data)
	if err != nil {
		return nil, err
	}
	if m.Type != want {
		return nil, ErrUnexpectedMessage
	}
	return m, nil
}
