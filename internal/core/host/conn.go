package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mss "github.com/multiformats/go-multistream"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

var connCounter atomic.Uint64

// conn Host 层连接，记录方向、打开的流数与最近活动时间
type conn struct {
	pkgif.CapableConn

	host   *Host
	id     string
	dir    pkgif.Direction
	opened time.Time

	streams    atomic.Int32
	lastActive atomic.Int64

	closeOnce sync.Once
}

var _ pkgif.Conn = (*conn)(nil)

func newConn(h *Host, c pkgif.CapableConn, dir pkgif.Direction) *conn {
	now := h.clock.Now()
	hc := &conn{
		CapableConn: c,
		host:        h,
		id:          fmt.Sprintf("%s-%d", c.Transport().Name(), connCounter.Add(1)),
		dir:         dir,
		opened:      now,
	}
	hc.lastActive.Store(now.UnixNano())
	return hc
}

func (c *conn) ID() string                 { return c.id }
func (c *conn) Direction() pkgif.Direction { return c.dir }
func (c *conn) Opened() time.Time          { return c.opened }

// Relayed 经由中继电路的连接
func (c *conn) Relayed() bool {
	return c.RemoteMultiaddr().IsRelayed()
}

func (c *conn) String() string {
	return fmt.Sprintf("<conn %s %s %s %s>", c.id, c.dir, c.RemotePeer().ShortString(), c.RemoteMultiaddr())
}

// NewStream 打开流并协商协议
func (c *conn) NewStream(ctx context.Context, protos ...types.ProtocolID) (pkgif.Stream, error) {
	if len(protos) == 0 {
		return nil, fmt.Errorf("no protocols given")
	}
	ms, err := c.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = ms.SetDeadline(dl)
	} else {
		_ = ms.SetDeadline(c.host.clock.Now().Add(c.host.cfg.NegotiationTimeout))
	}
	proto, err := mss.SelectOneOf(protos, ms)
	if err != nil {
		_ = ms.Reset()
		return nil, fmt.Errorf("negotiate %v: %w", protos, err)
	}
	_ = ms.SetDeadline(time.Time{})

	return c.track(ms, proto), nil
}

// track 登记流，流关闭时计数归还
func (c *conn) track(ms pkgif.MuxedStream, proto types.ProtocolID) *stream {
	c.streams.Add(1)
	c.touch()
	return &stream{MuxedStream: ms, conn: c, proto: proto}
}

func (c *conn) release() {
	c.streams.Add(-1)
	c.touch()
}

func (c *conn) touch() {
	c.lastActive.Store(c.host.clock.Now().UnixNano())
}

func (c *conn) idleSince() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close 关闭连接，连接表在接受循环退出时清理
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.CapableConn.Close()
	})
	return err
}

// acceptStreams 接受入站流直到连接关闭
func (c *conn) acceptStreams() {
	defer c.host.removeConn(c)

	for {
		ms, err := c.AcceptStream()
		if err != nil {
			log.Debug("连接接受循环退出", "conn", c.id, "peer", c.RemotePeer().ShortString(), "err", err)
			return
		}
		c.host.refs.Add(1)
		go func() {
			defer c.host.refs.Done()
			c.host.handleInbound(c, ms)
		}()
	}
}
