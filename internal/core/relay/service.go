package relay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("relay")

// reservationTag 持有预留的节点不参与空闲回收
const reservationTag = "relay-reservation"

// Service 中继服务端
type Service struct {
	host  pkgif.Host
	cfg   Config
	clock clock.Clock

	mu           sync.Mutex
	reservations map[types.PeerID]time.Time
	circuits     map[types.PeerID]int
	total        int

	limiters *expirable.LRU[types.PeerID, *rate.Limiter]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService 创建中继服务端
func NewService(h pkgif.Host, cfg Config, clk clock.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:         h,
		cfg:          cfg,
		clock:        clk,
		reservations: make(map[types.PeerID]time.Time),
		circuits:     make(map[types.PeerID]int),
		limiters:     expirable.NewLRU[types.PeerID, *rate.Limiter](1024, nil, 10*time.Minute),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start 注册 HOP 处理器
func (s *Service) Start() {
	s.host.SetStreamHandler(HopProtocol, s.handleHop)
	s.wg.Add(1)
	go s.gcLoop()
	log.Info("中继服务已启动", "ttl", s.cfg.ReservationTTL, "maxReservations", s.cfg.MaxReservations)
}

// Stop 注销处理器并终止所有电路
func (s *Service) Stop() {
	s.host.RemoveStreamHandler(HopProtocol)
	s.cancel()
	s.wg.Wait()
}

// Reservations 当前预留数
func (s *Service) Reservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

func (s *Service) gcLoop() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.expireReservations()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) expireReservations() {
	now := s.clock.Now()
	var expired []types.PeerID

	s.mu.Lock()
	for p, exp := range s.reservations {
		if now.After(exp) {
			delete(s.reservations, p)
			expired = append(expired, p)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		s.host.Unprotect(p, reservationTag)
		log.Debug("预留过期", "peer", p.ShortString())
	}
}

func (s *Service) handleHop(st pkgif.Stream) {
	_ = st.SetDeadline(s.clock.Now().Add(s.cfg.HandshakeTimeout))

	msg, err := readMessage(st)
	if err != nil {
		log.Debug("读取 HOP 消息失败", "peer", st.Conn().RemotePeer().ShortString(), "err", err)
		s.fail(st, StatusMalformedMessage)
		return
	}

	switch msg.Type {
	case MsgReserve:
		s.handleReserve(st)
	case MsgConnect:
		s.handleConnect(st, msg)
	default:
		s.fail(st, StatusUnexpectedMessage)
	}
}

func (s *Service) fail(st pkgif.Stream, status Status) {
	_ = writeMessage(st, &message{Type: MsgStatus, Status: status})
	_ = st.Close()
}

// handleReserve 建立或续期预留
func (s *Service) handleReserve(st pkgif.Stream) {
	p := st.Conn().RemotePeer()
	if st.Conn().Relayed() {
		s.fail(st, StatusReservationRefused)
		return
	}

	expire := s.clock.Now().Add(s.cfg.ReservationTTL)

	s.mu.Lock()
	_, renew := s.reservations[p]
	if !renew && len(s.reservations) >= s.cfg.MaxReservations {
		s.mu.Unlock()
		log.Debug("预留数已达上限", "peer", p.ShortString())
		s.fail(st, StatusResourceLimit)
		return
	}
	s.reservations[p] = expire
	s.mu.Unlock()

	s.host.Protect(p, reservationTag)

	self := s.host.ID()
	var addrs []multiaddr.Multiaddr
	for _, a := range s.host.Addrs() {
		addrs = append(addrs, a.WithPeer(self))
	}
	err := writeMessage(st, &message{
		Type:        MsgStatus,
		Status:      StatusOK,
		Reservation: &reservation{Expire: expire, Addrs: addrs},
	})
	_ = st.Close()
	if err != nil {
		log.Debug("写出预留响应失败", "peer", p.ShortString(), "err", err)
		return
	}
	log.Debug("预留成功", "peer", p.ShortString(), "renew", renew)
}

func (s *Service) allowConnect(src types.PeerID) bool {
	lim, ok := s.limiters.Get(src)
	if !ok {
		lim = rate.NewLimiter(s.cfg.ConnectRate, s.cfg.ConnectBurst)
		s.limiters.Add(src, lim)
	}
	return lim.Allow()
}

func (s *Service) hasReservation(p types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.reservations[p]
	return ok && s.clock.Now().Before(exp)
}

// acquireCircuit 为一条电路占用两端的名额
func (s *Service) acquireCircuit(src, dst types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxCircuits > 0 && s.total >= s.cfg.MaxCircuits {
		return false
	}
	if n := s.cfg.MaxCircuitsPerPeer; n > 0 && (s.circuits[src] >= n || s.circuits[dst] >= n) {
		return false
	}
	s.total++
	s.circuits[src]++
	s.circuits[dst]++
	return true
}

func (s *Service) releaseCircuit(src, dst types.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total--
	for _, p := range []types.PeerID{src, dst} {
		if s.circuits[p]--; s.circuits[p] <= 0 {
			delete(s.circuits, p)
		}
	}
}

// handleConnect 经 STOP 流联系目标，成功后转发两条流
func (s *Service) handleConnect(src pkgif.Stream, msg *message) {
	srcID := src.Conn().RemotePeer()
	if msg.Peer == nil || msg.Peer.ID.IsEmpty() {
		s.fail(src, StatusMalformedMessage)
		return
	}
	dstID := msg.Peer.ID

	if !s.allowConnect(srcID) {
		log.Debug("CONNECT 速率受限", "src", srcID.ShortString())
		s.fail(src, StatusResourceLimit)
		return
	}
	if !s.hasReservation(dstID) {
		s.fail(src, StatusNoReservation)
		return
	}
	if !s.acquireCircuit(srcID, dstID) {
		s.fail(src, StatusResourceLimit)
		return
	}

	dst, err := s.openStop(srcID, dstID)
	if err != nil {
		s.releaseCircuit(srcID, dstID)
		log.Debug("联系目标失败", "src", srcID.ShortString(), "dst", dstID.ShortString(), "err", err)
		s.fail(src, StatusConnectionFailed)
		return
	}

	if err := writeMessage(src, &message{Type: MsgStatus, Status: StatusOK}); err != nil {
		s.releaseCircuit(srcID, dstID)
		_ = src.Reset()
		_ = dst.Reset()
		return
	}
	_ = src.SetDeadline(time.Time{})
	_ = dst.SetDeadline(time.Time{})

	log.Debug("电路建立", "src", srcID.ShortString(), "dst", dstID.ShortString())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseCircuit(srcID, dstID)
		s.splice(src, dst)
	}()
}

func (s *Service) openStop(srcID, dstID types.PeerID) (pkgif.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	dst, err := s.host.NewStream(ctx, dstID, StopProtocol)
	if err != nil {
		return nil, err
	}
	_ = dst.SetDeadline(s.clock.Now().Add(s.cfg.HandshakeTimeout))

	if err := writeMessage(dst, &message{Type: MsgConnect, Peer: &peerRecord{ID: srcID}}); err != nil {
		_ = dst.Reset()
		return nil, err
	}
	resp, err := readMessage(dst)
	if err != nil {
		_ = dst.Reset()
		return nil, err
	}
	if resp.Type != MsgStatus {
		_ = dst.Reset()
		return nil, ErrUnexpectedMessage
	}
	if err := statusErr(resp.Status); err != nil {
		_ = dst.Close()
		return nil, err
	}
	return dst, nil
}

// splice 双向转发直到两个方向都结束
func (s *Service) splice(a, b pkgif.Stream) {
	stop := context.AfterFunc(s.ctx, func() {
		_ = a.Reset()
		_ = b.Reset()
	})
	defer stop()

	if s.cfg.MaxDuration > 0 {
		t := s.clock.AfterFunc(s.cfg.MaxDuration, func() {
			_ = a.Reset()
			_ = b.Reset()
		})
		defer t.Stop()
	}

	var wg sync.WaitGroup
	pipe := func(dst, src pkgif.Stream) {
		defer wg.Done()
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Reset()
			_ = src.Reset()
			return
		}
		_ = dst.CloseWrite()
	}
	wg.Add(2)
	go pipe(a, b)
	go pipe(b, a)
	wg.Wait()

	_ = a.Close()
	_ = b.Close()
}
