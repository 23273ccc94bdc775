package relay

import (
	"fmt"
	"io"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

// 协议 ID
const (
	HopProtocol  = types.ProtocolID("/retoro/relay/hop/1.0.0")
	StopProtocol = types.ProtocolID("/retoro/relay/stop/1.0.0")
)

// maxMessageSize 控制消息上限
const maxMessageSize = 4 << 10

// MsgType 消息类型
type MsgType uint64

const (
	MsgReserve MsgType = 1
	MsgConnect MsgType = 2
	MsgStatus  MsgType = 3
)

// Status 状态码
type Status uint64

const (
	StatusOK                 Status = 100
	StatusReservationRefused Status = 200
	StatusResourceLimit      Status = 201
	StatusConnectionFailed   Status = 203
	StatusNoReservation      Status = 204
	StatusMalformedMessage   Status = 400
	StatusUnexpectedMessage  Status = 401
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusReservationRefused:
		return "reservation refused"
	case StatusResourceLimit:
		return "resource limit exceeded"
	case StatusConnectionFailed:
		return "connection failed"
	case StatusNoReservation:
		return "no reservation"
	case StatusMalformedMessage:
		return "malformed message"
	case StatusUnexpectedMessage:
		return "unexpected message"
	default:
		return fmt.Sprintf("status(%d)", uint64(s))
	}
}

// peerRecord 节点及地址
type peerRecord struct {
	ID    types.PeerID
	Addrs []multiaddr.Multiaddr
}

// reservation 预留信息
type reservation struct {
	Expire time.Time
	Addrs  []multiaddr.Multiaddr
}

// message HOP 与 STOP 共用的控制消息
//
//	1 type         uvarint
//	2 peer         { 1 id bytes, 2 addrs repeated bytes }
//	3 reservation  { 1 expire uvarint(unix 秒), 2 addrs repeated bytes }
//	4 status       uvarint
type message struct {
	Type        MsgType
	Peer        *peerRecord
	Reservation *reservation
	Status      Status
}

func (m *message) marshal() []byte {
	var b []byte
	b = wire.AppendUvarint(b, 1, uint64(m.Type))
	if m.Peer != nil {
		var pb []byte
		pb = wire.AppendBytes(pb, 1, m.Peer.ID[:])
		for _, a := range m.Peer.Addrs {
			pb = wire.AppendBytes(pb, 2, a.Bytes())
		}
		b = wire.AppendBytes(b, 2, pb)
	}
	if m.Reservation != nil {
		var rb []byte
		rb = wire.AppendUvarint(rb, 1, uint64(m.Reservation.Expire.Unix()))
		for _, a := range m.Reservation.Addrs {
			rb = wire.AppendBytes(rb, 2, a.Bytes())
		}
		b = wire.AppendBytes(b, 3, rb)
	}
	if m.Status != 0 {
		b = wire.AppendUvarint(b, 4, uint64(m.Status))
	}
	return b
}

func unmarshalMessage(data []byte) (*message, error) {
	m := &message{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Type = MsgType(r.Uvarint())
		case 2:
			p, err := unmarshalPeer(r.Bytes())
			if err != nil {
				return nil, err
			}
			m.Peer = p
		case 3:
			m.Reservation = unmarshalReservation(r.Bytes())
		case 4:
			m.Status = Status(r.Uvarint())
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalPeer(data []byte) (*peerRecord, error) {
	p := &peerRecord{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			raw := r.Bytes()
			if len(raw) != len(p.ID) {
				return nil, fmt.Errorf("%w: peer id length %d", wire.ErrMalformed, len(raw))
			}
			copy(p.ID[:], raw)
		case 2:
			if a, err := multiaddr.FromBytes(r.Bytes()); err == nil {
				p.Addrs = append(p.Addrs, a)
			}
		default:
			r.Skip()
		}
	}
	return p, r.Err()
}

func unmarshalReservation(data []byte) *reservation {
	res := &reservation{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			res.Expire = time.Unix(int64(r.Uvarint()), 0)
		case 2:
			if a, err := multiaddr.FromBytes(r.Bytes()); err == nil {
				res.Addrs = append(res.Addrs, a)
			}
		default:
			r.Skip()
		}
	}
	return res
}

func writeMessage(w io.Writer, m *message) error {
	return wire.WriteFrame(w, m.marshal())
}

func readMessage(r io.Reader) (*message, error) {
	data, err := wire.ReadFrame(r, maxMessageSize)
	if err != nil {
		return nil, err
	}
	return unmarshalMessage(data)
}

// statusErr 非 OK 状态转换为错误
func statusErr(s Status) error {
	if s == StatusOK {
		return nil
	}
	return &StatusError{Status: s}
}
