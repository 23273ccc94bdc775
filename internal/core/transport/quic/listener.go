package quic

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// listener QUIC 监听器
type listener struct {
	t    *Transport
	sock *socket
	ql   *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

var _ pkgif.Listener = (*listener)(nil)

func newListener(t *Transport, sock *socket, ql *quic.Listener) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{t: t, sock: sock, ql: ql, ctx: ctx, cancel: cancel}
}

// Accept 接受下一个连接；证书无效的连接被丢弃
func (l *listener) Accept() (pkgif.CapableConn, error) {
	for {
		qc, err := l.ql.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		c, err := newConn(l.t, qc)
		if err != nil {
			log.Debug("丢弃入站 QUIC 连接", "remote", qc.RemoteAddr().String(), "error", err)
			_ = qc.CloseWithError(errCodeMismatch, "bad certificate")
			continue
		}
		return c, nil
	}
}

// Close 停止监听并释放 socket
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ql.Close()
		l.t.dropSocket(l.sock)
	})
	return err
}

func (l *listener) Multiaddr() multiaddr.Multiaddr { return l.sock.laddr }
