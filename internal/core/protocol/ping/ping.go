// Package ping 实现存活检测协议
//
// 客户端写入 32 字节随机数，服务端原样回显，客户端以此测量往返时延。
// 同一条流上可以连续多次 ping。
package ping

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("protocol.ping")

// ProtocolID ping 协议 ID
const ProtocolID = types.ProtocolID("/retoro/ping/1.0.0")

const (
	// Size ping 负载大小
	Size = 32

	// Timeout 单次 ping 超时
	Timeout = 10 * time.Second

	// handlerIdleTimeout 服务端等待下一次 ping 的时间
	handlerIdleTimeout = 60 * time.Second
)

// ErrDataMismatch 回显与发送的数据不一致
var ErrDataMismatch = errors.New("ping: echo data mismatch")

// Service ping 服务
type Service struct {
	host  pkgif.Host
	clock clock.Clock
}

var _ pkgif.Liveness = (*Service)(nil)

// New 创建 ping 服务
func New(h pkgif.Host, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{host: h, clock: clk}
}

// Start 注册处理器
func (s *Service) Start() {
	s.host.SetStreamHandler(ProtocolID, s.handle)
}

// Stop 注销处理器
func (s *Service) Stop() {
	s.host.RemoveStreamHandler(ProtocolID)
}

func (s *Service) handle(st pkgif.Stream) {
	defer st.Close()

	buf := make([]byte, Size)
	for {
		_ = st.SetReadDeadline(time.Now().Add(handlerIdleTimeout))
		if _, err := io.ReadFull(st, buf); err != nil {
			return
		}
		if _, err := st.Write(buf); err != nil {
			return
		}
	}
}

// Ping 测量到节点的往返时延
func (s *Service) Ping(ctx context.Context, p types.PeerID) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	st, err := s.host.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	dl, _ := ctx.Deadline()
	_ = st.SetDeadline(dl)

	rtt, err := roundTrip(st, s.clock)
	if err != nil {
		_ = st.Reset()
		return 0, err
	}
	log.Debug("ping", "peer", p.ShortString(), "rtt", rtt)
	return rtt, nil
}

func roundTrip(rw io.ReadWriter, clk clock.Clock) (time.Duration, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}

	start := clk.Now()
	if _, err := rw.Write(buf); err != nil {
		return 0, err
	}
	echo := make([]byte, Size)
	if _, err := io.ReadFull(rw, echo); err != nil {
		return 0, err
	}
	rtt := clk.Since(start)

	if !bytes.Equal(buf, echo) {
		return 0, ErrDataMismatch
	}
	return rtt, nil
}
