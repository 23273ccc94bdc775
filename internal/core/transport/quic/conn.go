package quic

import (
	"context"
	"errors"
	"time"

	"github.com/quic-go/quic-go"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// 应用层错误码
const (
	errCodeNormal   quic.ApplicationErrorCode = 0
	errCodeMismatch quic.ApplicationErrorCode = 1
	errCodeReset    quic.StreamErrorCode      = 0
)

// conn QUIC 连接
type conn struct {
	qc        *quic.Conn
	transport *Transport

	local     types.PeerID
	remote    types.PeerID
	remoteKey crypto.PublicKey
	laddr     multiaddr.Multiaddr
	raddr     multiaddr.Multiaddr
}

var _ pkgif.CapableConn = (*conn)(nil)

func newConn(t *Transport, qc *quic.Conn) (*conn, error) {
	remote, key, err := peerFromCert(rawCerts(qc))
	if err != nil {
		return nil, err
	}
	laddr, err := multiaddr.FromNetAddr(qc.LocalAddr())
	if err != nil {
		return nil, err
	}
	raddr, err := multiaddr.FromNetAddr(qc.RemoteAddr())
	if err != nil {
		return nil, err
	}
	return &conn{
		qc:        qc,
		transport: t,
		local:     t.identity.ID(),
		remote:    remote,
		remoteKey: key,
		laddr:     laddr,
		raddr:     raddr,
	}, nil
}

func rawCerts(qc *quic.Conn) [][]byte {
	certs := qc.ConnectionState().TLS.PeerCertificates
	out := make([][]byte, len(certs))
	for i, c := range certs {
		out[i] = c.Raw
	}
	return out
}

func (c *conn) OpenStream(ctx context.Context) (pkgif.MuxedStream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (c *conn) AcceptStream() (pkgif.MuxedStream, error) {
	s, err := c.qc.AcceptStream(context.Background())
	if err != nil {
		return nil, err
	}
	return &stream{s: s}, nil
}

func (c *conn) Close() error {
	return c.qc.CloseWithError(errCodeNormal, "")
}

func (c *conn) IsClosed() bool {
	return c.qc.Context().Err() != nil
}

func (c *conn) LocalPeer() types.PeerID              { return c.local }
func (c *conn) RemotePeer() types.PeerID             { return c.remote }
func (c *conn) RemotePublicKey() crypto.PublicKey    { return c.remoteKey }
func (c *conn) LocalMultiaddr() multiaddr.Multiaddr  { return c.laddr }
func (c *conn) RemoteMultiaddr() multiaddr.Multiaddr { return c.raddr }
func (c *conn) Transport() pkgif.Transport           { return c.transport }

// ============================================================================
//                              流
// ============================================================================

// stream QUIC 流；Close 关闭写方向，Reset 同时取消读写
type stream struct {
	s *quic.Stream
}

var _ pkgif.MuxedStream = (*stream)(nil)

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.s.Read(p)
	var se *quic.StreamError
	if errors.As(err, &se) {
		err = ErrStreamReset
	}
	return n, err
}

func (s *stream) Write(p []byte) (int, error) {
	n, err := s.s.Write(p)
	var se *quic.StreamError
	if errors.As(err, &se) {
		err = ErrStreamReset
	}
	return n, err
}

// Close 关闭写方向并放弃未读数据
func (s *stream) Close() error {
	s.s.CancelRead(errCodeReset)
	return s.s.Close()
}

func (s *stream) CloseWrite() error { return s.s.Close() }

func (s *stream) Reset() error {
	s.s.CancelRead(errCodeReset)
	s.s.CancelWrite(errCodeReset)
	return nil
}

func (s *stream) SetDeadline(t time.Time) error      { return s.s.SetDeadline(t) }
func (s *stream) SetReadDeadline(t time.Time) error  { return s.s.SetReadDeadline(t) }
func (s *stream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }
