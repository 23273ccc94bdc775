package host

import (
	"sync"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

// stream Host 层流
type stream struct {
	pkgif.MuxedStream

	conn  *conn
	proto types.ProtocolID

	once sync.Once
}

var _ pkgif.Stream = (*stream)(nil)

func (s *stream) Protocol() types.ProtocolID { return s.proto }
func (s *stream) Conn() pkgif.Conn           { return s.conn }

func (s *stream) Close() error {
	s.once.Do(s.conn.release)
	return s.MuxedStream.Close()
}

func (s *stream) Reset() error {
	s.once.Do(s.conn.release)
	return s.MuxedStream.Reset()
}
