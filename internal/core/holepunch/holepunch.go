package holepunch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("holepunch")

// Config 打洞配置
type Config struct {
	// MaxAttempts 单次升级的最大尝试次数
	MaxAttempts int

	// StreamTimeout 协议消息交换超时
	StreamTimeout time.Duration

	// DialTimeout 单次直连拨号超时
	DialTimeout time.Duration

	// GracePeriod 直连成功后关闭中继连接前的等待时间
	GracePeriod time.Duration

	// KeepRelay 直连成功后保留中继连接
	KeepRelay bool

	// AllowLoopback 交换回环地址（测试用）
	AllowLoopback bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		StreamTimeout: 60 * time.Second,
		DialTimeout:   5 * time.Second,
		GracePeriod:   10 * time.Second,
	}
}

// Service 打洞服务
type Service struct {
	host  pkgif.Host
	cfg   Config
	clock clock.Clock

	mu     sync.Mutex
	active map[types.PeerID]struct{}

	successes atomic.Int64
	failures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建打洞服务
func New(h pkgif.Host, cfg Config, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:   h,
		cfg:    cfg,
		clock:  clk,
		active: make(map[types.PeerID]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 注册处理器，并在接受中继连接时自动发起打洞
func (s *Service) Start() error {
	sub, err := s.host.EventBus().Subscribe(new(pkgif.EvtPeerConnected), pkgif.BufSize(64))
	if err != nil {
		return err
	}
	s.host.SetStreamHandler(ProtocolID, s.handle)

	s.wg.Add(1)
	go s.loop(sub)
	return nil
}

// Stop 停止服务
func (s *Service) Stop() {
	s.host.RemoveStreamHandler(ProtocolID)
	s.cancel()
	s.wg.Wait()
}

// Stats 成功与失败次数
func (s *Service) Stats() (successes, failures int64) {
	return s.successes.Load(), s.failures.Load()
}

func (s *Service) loop(sub pkgif.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-sub.Out():
			if !ok {
				return
			}
			evt := e.(pkgif.EvtPeerConnected)
			if !evt.Relayed || evt.Direction != pkgif.DirInbound {
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.DirectConnect(s.ctx, evt.Peer); err != nil {
					log.Debug("打洞失败", "peer", evt.Peer.ShortString(), "err", err)
				}
			}()
		}
	}
}

// DirectConnect 尝试把到 p 的中继连接升级为直连
func (s *Service) DirectConnect(ctx context.Context, p types.PeerID) error {
	if s.hasDirect(p) {
		return nil
	}
	if len(s.host.ConnsToPeer(p)) == 0 {
		return ErrNotConnected
	}

	s.mu.Lock()
	if _, ok := s.active[p]; ok {
		s.mu.Unlock()
		return ErrInProgress
	}
	s.active[p] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, p)
		s.mu.Unlock()
	}()

	var lastErr error
	for i := 1; i <= s.cfg.MaxAttempts; i++ {
		lastErr = s.attempt(ctx, p)
		if lastErr == nil || s.hasDirect(p) {
			s.succeeded(p, i)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Debug("打洞尝试失败", "peer", p.ShortString(), "attempt", i, "err", lastErr)
	}
	s.failures.Add(1)
	return fmt.Errorf("%w: %w", ErrFailed, lastErr)
}

func (s *Service) succeeded(p types.PeerID, attempt int) {
	s.successes.Add(1)
	log.Info("打洞成功", "peer", p.ShortString(), "attempt", attempt)
	if s.cfg.KeepRelay {
		return
	}
	s.clock.AfterFunc(s.cfg.GracePeriod, func() {
		if !s.hasDirect(p) {
			return
		}
		for _, c := range s.host.ConnsToPeer(p) {
			if c.Relayed() {
				_ = c.Close()
			}
		}
	})
}

// attempt 发起方的一轮 CONNECT / SYNC
func (s *Service) attempt(ctx context.Context, p types.PeerID) error {
	own := s.localAddrs()
	if len(own) == 0 {
		return ErrNoAddrs
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	st, err := s.host.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return err
	}
	defer st.Close()
	dl, _ := ctx.Deadline()
	_ = st.SetDeadline(dl)

	start := s.clock.Now()
	if err := writeMessage(st, &message{Type: msgConnect, Addrs: own}); err != nil {
		_ = st.Reset()
		return err
	}
	resp, err := readMessage(st, msgConnect)
	if err != nil {
		_ = st.Reset()
		return err
	}
	rtt := s.clock.Since(start)

	remote := s.filterAddrs(resp.Addrs)
	if len(remote) == 0 {
		_ = st.Reset()
		return ErrNoAddrs
	}
	if err := writeMessage(st, &message{Type: msgSync}); err != nil {
		_ = st.Reset()
		return err
	}

	select {
	case <-s.clock.After(rtt / 2):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.dialDirect(ctx, p, remote)
}

// handle 响应方：回复 CONNECT，收到 SYNC 后立即拨号
func (s *Service) handle(st pkgif.Stream) {
	defer st.Close()
	p := st.Conn().RemotePeer()
	_ = st.SetDeadline(s.clock.Now().Add(s.cfg.StreamTimeout))

	req, err := readMessage(st, msgConnect)
	if err != nil {
		log.Debug("读取 CONNECT 失败", "peer", p.ShortString(), "err", err)
		_ = st.Reset()
		return
	}
	remote := s.filterAddrs(req.Addrs)

	if err := writeMessage(st, &message{Type: msgConnect, Addrs: s.localAddrs()}); err != nil {
		_ = st.Reset()
		return
	}
	if _, err := readMessage(st, msgSync); err != nil {
		_ = st.Reset()
		return
	}
	if len(remote) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StreamTimeout)
	defer cancel()
	if err := s.dialDirect(ctx, p, remote); err != nil {
		log.Debug("响应方直连拨号失败", "peer", p.ShortString(), "err", err)
	}
}

// dialDirect 并行拨号所有地址，任一成功即取消其余拨号
func (s *Service) dialDirect(ctx context.Context, p types.PeerID, addrs []multiaddr.Multiaddr) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ok atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range addrs {
		g.Go(func() error {
			dctx, dcancel := context.WithTimeout(gctx, s.cfg.DialTimeout)
			defer dcancel()
			if _, err := s.host.DialAddr(dctx, a.WithPeer(p)); err != nil {
				log.Debug("直连拨号失败", "peer", p.ShortString(), "addr", a, "err", err)
				return nil
			}
			ok.Store(true)
			cancel()
			return nil
		})
	}
	_ = g.Wait()

	if ok.Load() || s.hasDirect(p) {
		return nil
	}
	return ErrFailed
}

func (s *Service) hasDirect(p types.PeerID) bool {
	for _, c := range s.host.ConnsToPeer(p) {
		if !c.Relayed() && !c.IsClosed() {
			return true
		}
	}
	return false
}

// localAddrs 本机可直连地址
func (s *Service) localAddrs() []multiaddr.Multiaddr {
	return s.filterAddrs(s.host.Addrs())
}

func (s *Service) filterAddrs(in []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	var out []multiaddr.Multiaddr
	for _, a := range in {
		a, _, _ = a.SplitPeer()
		if a.IsRelayed() || a.IsUnspecified() {
			continue
		}
		if a.IsLoopback() && !s.cfg.AllowLoopback {
			continue
		}
		out = append(out, a)
	}
	return multiaddr.Unique(out)
}
