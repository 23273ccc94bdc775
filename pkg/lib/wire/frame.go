package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// DefaultMaxFrameSize 默认最大帧长度
const DefaultMaxFrameSize = 4 << 20

// ErrFrameTooLarge 帧超过上限
var ErrFrameTooLarge = errors.New("wire: frame too large")

// WriteFrame 写入一个 varint 长度前缀的帧
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(payload)))+len(payload))
	buf = append(buf, varint.ToUvarint(uint64(len(payload)))...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame 读取一个帧，max <= 0 时使用 DefaultMaxFrameSize
//
// r 不是 io.ByteReader 时逐字节读取长度前缀，不会多读帧之后的数据。
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	size, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if size > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, max)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// NewFrameReader 为长连接流创建带缓冲的读取器
//
// 调用方之后只能通过返回的 Reader 读取该流。
func NewFrameReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
