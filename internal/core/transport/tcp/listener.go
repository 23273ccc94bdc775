package tcp

import (
	"context"
	"errors"
	"net"
	"sync"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// acceptQueue 已升级但未被取走的入站连接上限
const acceptQueue = 16

// listener 接受原始连接并在后台升级
type listener struct {
	t     *Transport
	nl    net.Listener
	laddr multiaddr.Multiaddr

	incoming chan pkgif.CapableConn
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

var _ pkgif.Listener = (*listener)(nil)

func newListener(t *Transport, nl net.Listener, laddr multiaddr.Multiaddr) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{
		t:        t,
		nl:       nl,
		laddr:    laddr,
		incoming: make(chan pkgif.CapableConn, acceptQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

func (l *listener) acceptLoop() {
	defer l.wg.Done()
	defer close(l.incoming)

	var upgrades sync.WaitGroup
	defer upgrades.Wait()

	for {
		raw, err := l.nl.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug("TCP accept 失败", "error", err)
			}
			return
		}

		upgrades.Add(1)
		go func() {
			defer upgrades.Done()
			l.upgrade(raw)
		}()
	}
}

func (l *listener) upgrade(raw net.Conn) {
	ctx, cancel := context.WithTimeout(l.ctx, l.t.cfg.HandshakeTimeout)
	defer cancel()

	raddr, err := multiaddr.FromNetAddr(raw.RemoteAddr())
	if err != nil {
		raw.Close()
		return
	}
	laddr, err := multiaddr.FromNetAddr(raw.LocalAddr())
	if err != nil {
		laddr = l.laddr
	}

	conn, err := l.t.upgrader.Upgrade(ctx, l.t, raw, pkgif.DirInbound, types.EmptyPeerID, laddr, raddr)
	if err != nil {
		log.Debug("入站连接升级失败", "remote", raddr.String(), "error", err)
		return
	}

	select {
	case l.incoming <- conn:
	case <-l.ctx.Done():
		conn.Close()
	}
}

// Accept 返回下一个已升级的入站连接
func (l *listener) Accept() (pkgif.CapableConn, error) {
	c, ok := <-l.incoming
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

// Close 停止监听
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.nl.Close()
		l.t.removeListener(l)
		go func() {
			// 排空未取走的连接
			for c := range l.incoming {
				c.Close()
			}
		}()
	})
	return err
}

func (l *listener) Multiaddr() multiaddr.Multiaddr { return l.laddr }
