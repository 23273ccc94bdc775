package yamux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.muxer.yamux")

// ID 协议标识
const ID = types.ProtocolID("/yamux/1.0.0")

var (
	// ErrStreamReset 流被重置
	ErrStreamReset = errors.New("stream reset")

	// ErrConnClosed 会话已关闭
	ErrConnClosed = errors.New("connection closed")
)

// Transport yamux 复用器
type Transport struct {
	cfg *yamux.Config
}

var _ pkgif.Multiplexer = (*Transport)(nil)

// New 创建复用器
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	yc := cfg.toYamux()
	if err := yamux.VerifyConfig(yc); err != nil {
		return nil, fmt.Errorf("yamux config: %w", err)
	}
	return &Transport{cfg: yc}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID { return ID }

// NewConn 在安全连接上建立会话
func (t *Transport) NewConn(conn net.Conn, isServer bool) (pkgif.MuxedConn, error) {
	var (
		sess *yamux.Session
		err  error
	)
	if isServer {
		sess, err = yamux.Server(conn, t.cfg)
	} else {
		sess, err = yamux.Client(conn, t.cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("创建 yamux 会话失败: %w", err)
	}
	return &muxedConn{sess: sess}, nil
}

// ============================================================================
//                              会话
// ============================================================================

type muxedConn struct {
	sess *yamux.Session
}

var _ pkgif.MuxedConn = (*muxedConn)(nil)

// OpenStream yamux 打开流不接受 ctx，在独立 goroutine 中等待
func (c *muxedConn) OpenStream(ctx context.Context) (pkgif.MuxedStream, error) {
	type result struct {
		s   *yamux.Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := c.sess.OpenStream()
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, parseError(r.err)
		}
		return &stream{s: r.s}, nil
	case <-ctx.Done():
		// 流稍后打开时立即关闭
		go func() {
			if r := <-ch; r.s != nil {
				_ = r.s.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (c *muxedConn) AcceptStream() (pkgif.MuxedStream, error) {
	s, err := c.sess.AcceptStream()
	if err != nil {
		return nil, parseError(err)
	}
	return &stream{s: s}, nil
}

func (c *muxedConn) Close() error {
	err := c.sess.Close()
	if err != nil {
		log.Debug("关闭会话失败", "error", err)
	}
	return err
}

func (c *muxedConn) IsClosed() bool { return c.sess.IsClosed() }

// ============================================================================
//                              流
// ============================================================================

// stream yamux 流；yamux 的 Close 即半关闭写方向
type stream struct {
	s *yamux.Stream
}

var _ pkgif.MuxedStream = (*stream)(nil)

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.s.Read(p)
	return n, parseError(err)
}

func (s *stream) Write(p []byte) (int, error) {
	n, err := s.s.Write(p)
	return n, parseError(err)
}

func (s *stream) Close() error      { return s.s.Close() }
func (s *stream) CloseWrite() error { return s.s.Close() }

// Reset 发送 FIN 并立即打断本地阻塞的读写
func (s *stream) Reset() error {
	past := time.Unix(1, 0)
	_ = s.s.SetDeadline(past)
	return s.s.Close()
}

func (s *stream) SetDeadline(t time.Time) error      { return s.s.SetDeadline(t) }
func (s *stream) SetReadDeadline(t time.Time) error  { return s.s.SetReadDeadline(t) }
func (s *stream) SetWriteDeadline(t time.Time) error { return s.s.SetWriteDeadline(t) }

// parseError 把 yamux 错误映射为包内错误
func parseError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, yamux.ErrConnectionReset):
		return ErrStreamReset
	case errors.Is(err, yamux.ErrSessionShutdown):
		return ErrConnClosed
	default:
		return err
	}
}
