package retoro

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/retoro/go-retoro/pkg/lib/wire"
)

// Message 带作者与时间戳的文本消息，构造后不再修改
type Message struct {
	ID         uuid.UUID
	AuthorName string
	AuthorID   []byte
	Content    string

	// Timestamp 毫秒级 Unix 时间
	Timestamp int64
}

// NewMessage 以当前时间构造消息
func NewMessage(authorName string, authorID []byte, content string, clk clock.Clock) Message {
	if clk == nil {
		clk = clock.New()
	}
	return Message{
		ID:         uuid.New(),
		AuthorName: authorName,
		AuthorID:   bytes.Clone(authorID),
		Content:    content,
		Timestamp:  clk.Now().UnixMilli(),
	}
}

// Equal 逐字段比较；nil 与空的 AuthorID 视为相同
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.AuthorName == o.AuthorName &&
		bytes.Equal(m.AuthorID, o.AuthorID) &&
		m.Content == o.Content &&
		m.Timestamp == o.Timestamp
}

// 线格式字段号
const (
	fieldID         = 1
	fieldAuthorName = 2
	fieldAuthorID   = 3
	fieldContent    = 4
	fieldTimestamp  = 5
)

// EncodeMessage 编码为覆盖网络载荷
//
// 作者名或内容不是合法 UTF-8 时返回 ErrMalformedMessage。
func EncodeMessage(m Message) ([]byte, error) {
	if !utf8.ValidString(m.Content) || !utf8.ValidString(m.AuthorName) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformedMessage)
	}
	b := make([]byte, 0, 32+len(m.AuthorName)+len(m.AuthorID)+len(m.Content))
	b = wire.AppendBytes(b, fieldID, m.ID[:])
	b = wire.AppendString(b, fieldAuthorName, m.AuthorName)
	b = wire.AppendBytes(b, fieldAuthorID, m.AuthorID)
	b = wire.AppendString(b, fieldContent, m.Content)
	b = wire.AppendSint64(b, fieldTimestamp, m.Timestamp)
	return b, nil
}

// DecodeMessage 解码载荷，未知字段被跳过
func DecodeMessage(b []byte) (Message, error) {
	var (
		m     Message
		hasID bool
	)
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case fieldID:
			id := r.Bytes()
			if r.Err() == nil {
				if len(id) != len(m.ID) {
					return Message{}, fmt.Errorf("%w: id length %d", ErrMalformedMessage, len(id))
				}
				copy(m.ID[:], id)
				hasID = true
			}
		case fieldAuthorName:
			m.AuthorName = r.String()
		case fieldAuthorID:
			if id := r.Bytes(); len(id) > 0 {
				m.AuthorID = id
			}
		case fieldContent:
			m.Content = r.String()
		case fieldTimestamp:
			m.Timestamp = r.Sint64()
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if !hasID {
		return Message{}, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	if !utf8.ValidString(m.Content) || !utf8.ValidString(m.AuthorName) {
		return Message{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedMessage)
	}
	return m, nil
}
