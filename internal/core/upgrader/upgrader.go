package upgrader

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	mss "github.com/multiformats/go-multistream"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.upgrader")

// defaultNegotiateTimeout ctx 无截止时间时的协商超时
const defaultNegotiateTimeout = 60 * time.Second

// Config 升级器配置
type Config struct {
	Security []pkgif.SecureTransport
	Muxers   []pkgif.Multiplexer
}

// Upgrader 连接升级器
type Upgrader struct {
	security []pkgif.SecureTransport
	muxers   []pkgif.Multiplexer
}

var _ pkgif.Upgrader = (*Upgrader)(nil)

// New 创建升级器
func New(cfg Config) (*Upgrader, error) {
	if len(cfg.Security) == 0 {
		return nil, ErrNoSecurityTransport
	}
	if len(cfg.Muxers) == 0 {
		return nil, ErrNoStreamMuxer
	}
	return &Upgrader{security: cfg.Security, muxers: cfg.Muxers}, nil
}

// Upgrade 升级连接；失败时关闭 raw
func (u *Upgrader) Upgrade(ctx context.Context, t pkgif.Transport, raw net.Conn, dir pkgif.Direction,
	p types.PeerID, laddr, raddr multiaddr.Multiaddr) (pkgif.CapableConn, error) {
	isServer := dir == pkgif.DirInbound

	st, err := negotiate(ctx, raw, isServer, u.security, pkgif.SecureTransport.ID)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("security negotiation: %w", err)
	}

	var sc pkgif.SecureConn
	if isServer {
		sc, err = st.SecureInbound(ctx, raw, p)
	} else {
		sc, err = st.SecureOutbound(ctx, raw, p)
	}
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("security handshake: %w", err)
	}

	mx, err := negotiate(ctx, sc, isServer, u.muxers, pkgif.Multiplexer.ID)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("muxer negotiation: %w", err)
	}

	mc, err := mx.NewConn(sc, isServer)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("muxer setup: %w", err)
	}

	log.Debug("连接升级成功",
		"remotePeer", sc.RemotePeer().ShortString(),
		"direction", dir.String(),
		"security", st.ID(),
		"muxer", mx.ID())

	return &upgradedConn{
		MuxedConn: mc,
		sec:       sc,
		transport: t,
		laddr:     laddr,
		raddr:     raddr,
	}, nil
}

// negotiate 通过 multistream-select 从候选中选出双方都支持的一项
func negotiate[T any](ctx context.Context, conn net.Conn, isServer bool, candidates []T, id func(T) types.ProtocolID) (T, error) {
	var zero T

	deadline := time.Now().Add(defaultNegotiateTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return zero, fmt.Errorf("set deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	var (
		selected types.ProtocolID
		err      error
	)
	if isServer {
		m := mss.NewMultistreamMuxer[types.ProtocolID]()
		for _, c := range candidates {
			m.AddHandler(id(c), nil)
		}
		selected, _, err = m.Negotiate(nopCloser{conn})
	} else {
		protos := make([]types.ProtocolID, len(candidates))
		for i, c := range candidates {
			protos[i] = id(c)
		}
		selected, err = mss.SelectOneOf(protos, nopCloser{conn})
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}

	for _, c := range candidates {
		if id(c) == selected {
			return c, nil
		}
	}
	return zero, fmt.Errorf("%w: unknown protocol %s", ErrNegotiation, selected)
}

// nopCloser 协商失败时由升级器负责关闭连接
type nopCloser struct {
	io.ReadWriter
}

func (nopCloser) Close() error { return nil }
