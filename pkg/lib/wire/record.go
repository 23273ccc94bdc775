package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed 记录格式错误
var ErrMalformed = errors.New("wire: malformed record")

// ============================================================================
//                              编码
// ============================================================================

// AppendBytes 追加 bytes 字段
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendString 追加 string 字段
func AppendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// AppendUvarint 追加 uint64 字段
func AppendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendSint64 追加 zigzag 编码的 sint64 字段
func AppendSint64(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// AppendBool 追加 bool 字段
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// ============================================================================
//                              解码
// ============================================================================

// Reader 顺序读取记录中的字段
//
//	r := wire.NewReader(data)
//	for r.Next() {
//	    switch r.Field() {
//	    case 1:
//	        name = r.String()
//	    default:
//	        r.Skip()
//	    }
//	}
//	if err := r.Err(); err != nil { ... }
//
// 每次 Next 之后必须恰好调用一次取值方法或 Skip。
type Reader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

// NewReader 创建 Reader
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Next 前进到下一个字段
func (r *Reader) Next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(n)
		return false
	}
	r.num, r.typ, r.b = num, typ, r.b[n:]
	return true
}

// Field 当前字段号
func (r *Reader) Field() protowire.Number { return r.num }

// Err 返回解码错误
func (r *Reader) Err() error { return r.err }

// Skip 跳过当前字段值
func (r *Reader) Skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.fail(n)
		return
	}
	r.b = r.b[n:]
}

// Bytes 读取 bytes 字段（返回副本）
func (r *Reader) Bytes() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.b = r.b[n:]
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// String 读取 string 字段
func (r *Reader) String() string {
	if !r.expect(protowire.BytesType) {
		return ""
	}
	v, n := protowire.ConsumeString(r.b)
	if n < 0 {
		r.fail(n)
		return ""
	}
	r.b = r.b[n:]
	return v
}

// Uvarint 读取 uint64 字段
func (r *Reader) Uvarint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

// Sint64 读取 zigzag sint64 字段
func (r *Reader) Sint64() int64 {
	return protowire.DecodeZigZag(r.Uvarint())
}

// Bool 读取 bool 字段
func (r *Reader) Bool() bool {
	return r.Uvarint() != 0
}

func (r *Reader) expect(typ protowire.Type) bool {
	if r.typ != typ {
		r.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, r.num, r.typ, typ)
		return false
	}
	return true
}

func (r *Reader) fail(n int) {
	r.err = fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}
