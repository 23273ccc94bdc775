package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Sequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte{9}, 300)))

	r := NewFrameReader(&buf)
	f, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(f))

	f, err = ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Empty(t, f)

	f, err = ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Len(t, f, 300)

	_, err = ReadFrame(r, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrame_Limits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 64)))

	_, err := ReadFrame(&buf, 10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("truncated")))
	short := buf.Bytes()[:4]

	_, err := ReadFrame(struct{ io.Reader }{bytes.NewReader(short)}, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_Fields(t *testing.T) {
	var b []byte
	b = AppendString(b, 1, "name")
	b = AppendSint64(b, 2, -42)
	b = AppendBytes(b, 3, []byte{1, 2})
	b = AppendBool(b, 4, true)
	b = AppendUvarint(b, 99, 7)

	var (
		name  string
		num   int64
		raw   []byte
		flag  bool
		other int
	)
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			name = r.String()
		case 2:
			num = r.Sint64()
		case 3:
			raw = r.Bytes()
		case 4:
			flag = r.Bool()
		default:
			other++
			r.Skip()
		}
	}
	require.NoError(t, r.Err())
	assert.Equal(t, "name", name)
	assert.Equal(t, int64(-42), num)
	assert.Equal(t, []byte{1, 2}, raw)
	assert.True(t, flag)
	assert.Equal(t, 1, other)
}

func TestReader_WrongType(t *testing.T) {
	b := AppendUvarint(nil, 1, 5)
	r := NewReader(b)
	require.True(t, r.Next())
	_ = r.String()
	assert.ErrorIs(t, r.Err(), ErrMalformed)
	assert.False(t, r.Next())
}

func TestReader_Truncated(t *testing.T) {
	b := AppendString(nil, 1, "hello")
	r := NewReader(b[:len(b)-2])
	require.True(t, r.Next())
	_ = r.String()
	assert.ErrorIs(t, r.Err(), ErrMalformed)
}
