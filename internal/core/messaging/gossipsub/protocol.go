package gossipsub

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"lukechampine.com/blake3"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

// ProtocolID GossipSub 协议
const ProtocolID = types.ProtocolID("/meshsub/1.1.0")

// signPrefix 签名数据前缀
const signPrefix = "retoro-pubsub:"

// ============================================================================
//                              RPC 结构
// ============================================================================

// rpc 一个 RPC 帧
//
//	1 subscriptions repeated subOpt
//	2 publish       repeated Message
//	3 control       control
type rpc struct {
	Subs    []subOpt
	Msgs    []*Message
	Control *control
}

//	1 subscribe bool
//	2 topic     string
type subOpt struct {
	Subscribe bool
	Topic     string
}

// Message pubsub 消息
//
//	1 from      bytes  发布者 PeerID
//	2 data      bytes
//	3 seqno     bytes  8 字节大端
//	4 topic     string
//	5 signature bytes
//	6 key       bytes  序列化公钥
//	7 timestamp sint64 发布时间（毫秒）
type Message struct {
	From      []byte
	Data      []byte
	Seqno     []byte
	Topic     string
	Signature []byte
	Key       []byte
	Timestamp int64
}

//	1 ihave repeated ihave
//	2 iwant repeated iwant
//	3 graft repeated graft
//	4 prune repeated prune
type control struct {
	IHave []ihave
	IWant []iwant
	Graft []graft
	Prune []prune
}

type ihave struct {
	Topic string
	IDs   []string
}

type iwant struct {
	IDs []string
}

type graft struct {
	Topic string
}

// prune 的 backoff 以秒计
type prune struct {
	Topic   string
	Backoff uint64
}

func (c *control) empty() bool {
	return c == nil || len(c.IHave)+len(c.IWant)+len(c.Graft)+len(c.Prune) == 0
}

// ============================================================================
//                              编码
// ============================================================================

func (r *rpc) marshal() []byte {
	var b []byte
	for _, s := range r.Subs {
		var sb []byte
		sb = wire.AppendBool(sb, 1, s.Subscribe)
		sb = wire.AppendString(sb, 2, s.Topic)
		b = wire.AppendBytes(b, 1, sb)
	}
	for _, m := range r.Msgs {
		b = wire.AppendBytes(b, 2, m.marshal())
	}
	if !r.Control.empty() {
		b = wire.AppendBytes(b, 3, r.Control.marshal())
	}
	return b
}

func (m *Message) marshal() []byte {
	var b []byte
	b = wire.AppendBytes(b, 1, m.From)
	b = wire.AppendBytes(b, 2, m.Data)
	b = wire.AppendBytes(b, 3, m.Seqno)
	b = wire.AppendString(b, 4, m.Topic)
	if len(m.Signature) > 0 {
		b = wire.AppendBytes(b, 5, m.Signature)
	}
	if len(m.Key) > 0 {
		b = wire.AppendBytes(b, 6, m.Key)
	}
	b = wire.AppendSint64(b, 7, m.Timestamp)
	return b
}

func (c *control) marshal() []byte {
	var b []byte
	for _, ih := range c.IHave {
		var x []byte
		x = wire.AppendString(x, 1, ih.Topic)
		for _, id := range ih.IDs {
			x = wire.AppendString(x, 2, id)
		}
		b = wire.AppendBytes(b, 1, x)
	}
	for _, iw := range c.IWant {
		var x []byte
		for _, id := range iw.IDs {
			x = wire.AppendString(x, 1, id)
		}
		b = wire.AppendBytes(b, 2, x)
	}
	for _, g := range c.Graft {
		b = wire.AppendBytes(b, 3, wire.AppendString(nil, 1, g.Topic))
	}
	for _, p := range c.Prune {
		var x []byte
		x = wire.AppendString(x, 1, p.Topic)
		x = wire.AppendUvarint(x, 3, p.Backoff)
		b = wire.AppendBytes(b, 4, x)
	}
	return b
}

// ============================================================================
//                              解码
// ============================================================================

func unmarshalRPC(data []byte) (*rpc, error) {
	out := &rpc{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			s, err := unmarshalSubOpt(r.Bytes())
			if err != nil {
				return nil, err
			}
			out.Subs = append(out.Subs, s)
		case 2:
			m, err := unmarshalMessage(r.Bytes())
			if err != nil {
				return nil, err
			}
			out.Msgs = append(out.Msgs, m)
		case 3:
			c, err := unmarshalControl(r.Bytes())
			if err != nil {
				return nil, err
			}
			out.Control = c
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalSubOpt(data []byte) (subOpt, error) {
	var s subOpt
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			s.Subscribe = r.Bool()
		case 2:
			s.Topic = r.String()
		default:
			r.Skip()
		}
	}
	return s, r.Err()
}

func unmarshalMessage(data []byte) (*Message, error) {
	m := &Message{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.From = r.Bytes()
		case 2:
			m.Data = r.Bytes()
		case 3:
			m.Seqno = r.Bytes()
		case 4:
			m.Topic = r.String()
		case 5:
			m.Signature = r.Bytes()
		case 6:
			m.Key = r.Bytes()
		case 7:
			m.Timestamp = r.Sint64()
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalControl(data []byte) (*control, error) {
	c := &control{}
	r := wire.NewReader(data)
	for r.Next() {
		switch r.Field() {
		case 1:
			var ih ihave
			x := wire.NewReader(r.Bytes())
			for x.Next() {
				switch x.Field() {
				case 1:
					ih.Topic = x.String()
				case 2:
					ih.IDs = append(ih.IDs, x.String())
				default:
					x.Skip()
				}
			}
			if err := x.Err(); err != nil {
				return nil, err
			}
			c.IHave = append(c.IHave, ih)
		case 2:
			var iw iwant
			x := wire.NewReader(r.Bytes())
			for x.Next() {
				if x.Field() == 1 {
					iw.IDs = append(iw.IDs, x.String())
				} else {
					x.Skip()
				}
			}
			if err := x.Err(); err != nil {
				return nil, err
			}
			c.IWant = append(c.IWant, iw)
		case 3:
			var g graft
			x := wire.NewReader(r.Bytes())
			for x.Next() {
				if x.Field() == 1 {
					g.Topic = x.String()
				} else {
					x.Skip()
				}
			}
			if err := x.Err(); err != nil {
				return nil, err
			}
			c.Graft = append(c.Graft, g)
		case 4:
			var p prune
			x := wire.NewReader(r.Bytes())
			for x.Next() {
				switch x.Field() {
				case 1:
					p.Topic = x.String()
				case 3:
					p.Backoff = x.Uvarint()
				default:
					x.Skip()
				}
			}
			if err := x.Err(); err != nil {
				return nil, err
			}
			c.Prune = append(c.Prune, p)
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ============================================================================
//                              签名与校验
// ============================================================================

// signBytes 签名覆盖的数据：前缀 || 去掉签名与公钥的消息编码
func (m *Message) signBytes() []byte {
	x := *m
	x.Signature = nil
	x.Key = nil
	return append([]byte(signPrefix), x.marshal()...)
}

// sign 用发布者私钥签名并附上公钥
func (m *Message) sign(priv crypto.PrivateKey) error {
	key, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return err
	}
	sig, err := priv.Sign(m.signBytes())
	if err != nil {
		return err
	}
	m.Signature = sig
	m.Key = key
	return nil
}

// verify 严格校验：来源、序号、公钥与来源一致、签名有效
func (m *Message) verify() (types.PeerID, error) {
	if len(m.Signature) == 0 || len(m.Key) == 0 {
		return types.EmptyPeerID, errNoSignature
	}
	from, err := types.PeerIDFromBytes(m.From)
	if err != nil {
		return types.EmptyPeerID, errBadFrom
	}
	if len(m.Seqno) != 8 {
		return types.EmptyPeerID, errBadSeqno
	}
	pub, err := crypto.UnmarshalPublicKey(m.Key)
	if err != nil {
		return types.EmptyPeerID, errKeyMismatch
	}
	if err := crypto.VerifyPeerID(pub, from); err != nil {
		return types.EmptyPeerID, errKeyMismatch
	}
	ok, err := pub.Verify(m.signBytes(), m.Signature)
	if err != nil || !ok {
		return types.EmptyPeerID, errBadSignature
	}
	return from, nil
}

// seqno 解析序号
func (m *Message) seqno() uint64 {
	if len(m.Seqno) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(m.Seqno)
}

// messageID BLAKE3(时间桶 || data || topic || from)
//
// 同一发布者在同一时间桶内发送相同内容会得到相同 ID。
func messageID(m *Message, bucket time.Duration) string {
	step := max(bucket.Milliseconds(), 1)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(m.Timestamp/step))

	h := blake3.New(32, nil)
	_, _ = h.Write(ts[:])
	_, _ = h.Write(m.Data)
	_, _ = h.Write([]byte(m.Topic))
	_, _ = h.Write(m.From)
	return hex.EncodeToString(h.Sum(nil))
}
