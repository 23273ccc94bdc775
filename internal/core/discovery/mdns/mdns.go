// Package mdns 基于 mDNS 的局域网节点发现与引导拨号
//
// 本机以 TXT 记录 id=<peer> 与 addrs=<multiaddr,...> 通告自己，
// 周期性查询同一服务标签，首次看到某节点时发布 EvtPeerDiscovered，
// 超过 TTL 未再应答时发布 EvtPeerExpired。应答方在发现层不做鉴权，
// 数据只在安全握手完成后才会流动。
package mdns

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("discovery.mdns")

// Source 事件来源标识
const Source = "mdns"

type peerEntry struct {
	addrs    []multiaddr.Multiaddr
	lastSeen time.Time
}

// Service mDNS 发现服务
type Service struct {
	host  pkgif.Host
	cfg   Config
	clock clock.Clock

	discovered pkgif.Emitter
	expired    pkgif.Emitter

	mu     sync.Mutex
	peers  map[types.PeerID]*peerEntry
	server *mdns.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建发现服务
func New(h pkgif.Host, cfg Config, clk clock.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	bus := h.EventBus()
	discovered, err := bus.Emitter(new(pkgif.EvtPeerDiscovered))
	if err != nil {
		return nil, err
	}
	expired, err := bus.Emitter(new(pkgif.EvtPeerExpired))
	if err != nil {
		_ = discovered.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:       h,
		cfg:        cfg,
		clock:      clk,
		discovered: discovered,
		expired:    expired,
		peers:      make(map[types.PeerID]*peerEntry),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动通告与查询
//
// 本机地址变化时重新通告。
func (s *Service) Start() error {
	sub, err := s.host.EventBus().Subscribe(new(pkgif.EvtLocalAddrsUpdated), pkgif.BufSize(8))
	if err != nil {
		return err
	}
	s.restartServer()

	s.wg.Add(3)
	go s.addrsLoop(sub)
	go s.queryLoop()
	go s.expireLoop()

	log.Info("mDNS 发现已启动", "service", s.cfg.ServiceTag)
	return nil
}

// Stop 停止服务
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
	}
	s.mu.Unlock()

	_ = s.discovered.Close()
	_ = s.expired.Close()
}

func (s *Service) addrsLoop(sub pkgif.Subscription) {
	defer s.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-sub.Out():
			if !ok {
				return
			}
			s.restartServer()
		}
	}
}

// ============================================================================
//                              通告
// ============================================================================

func (s *Service) restartServer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if s.server != nil {
		_ = s.server.Shutdown()
		s.server = nil
	}

	addrs := advertisable(s.host.Addrs())
	ips, port := serviceEndpoint(addrs, s.cfg.DisableIPv6)
	if len(ips) == 0 {
		log.Warn("没有可通告的局域网地址，仅作为查询方运行，回环监听地址不会被通告", "addrs", len(s.host.Addrs()))
		return
	}

	svc, err := mdns.NewMDNSService(
		"retoro-"+s.host.ID().ShortString(),
		s.cfg.ServiceTag,
		s.cfg.Domain,
		"",
		port,
		ips,
		buildTXT(s.host.ID(), addrs),
	)
	if err != nil {
		log.Warn("创建 mDNS 服务失败", "err", err)
		return
	}
	conf := &mdns.Config{Zone: svc}
	if iface := s.iface(); iface != nil {
		conf.Iface = iface
	}
	server, err := mdns.NewServer(conf)
	if err != nil {
		log.Warn("启动 mDNS 服务器失败", "err", err)
		return
	}
	s.server = server
	log.Debug("mDNS 通告", "port", port, "addrs", len(addrs))
}

func (s *Service) iface() *net.Interface {
	if s.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(s.cfg.Interface)
	if err != nil {
		log.Warn("找不到指定接口", "interface", s.cfg.Interface, "err", err)
		return nil
	}
	return iface
}

// advertisable 过滤出可在局域网内拨号的地址
func advertisable(in []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	var out []multiaddr.Multiaddr
	for _, a := range in {
		if a.IsRelayed() || a.IsUnspecified() || a.IsLoopback() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// serviceEndpoint 取地址中的 IP 集合与端口（TCP 优先）
func serviceEndpoint(addrs []multiaddr.Multiaddr, noIPv6 bool) ([]net.IP, int) {
	var (
		ips              []net.IP
		seen             = make(map[netip.Addr]struct{})
		tcpPort, anyPort int
	)
	for _, a := range addrs {
		ip, ok := a.IP()
		if !ok || (noIPv6 && !ip.Is4()) {
			continue
		}
		if _, dup := seen[ip]; !dup {
			seen[ip] = struct{}{}
			ips = append(ips, net.IP(ip.AsSlice()))
		}
		p, ok := a.Port()
		if !ok {
			continue
		}
		if a.IsTCP() && tcpPort == 0 {
			tcpPort = p
		}
		if anyPort == 0 {
			anyPort = p
		}
	}
	if tcpPort != 0 {
		return ips, tcpPort
	}
	return ips, anyPort
}

// ============================================================================
//                              查询
// ============================================================================

func (s *Service) queryLoop() {
	defer s.wg.Done()

	s.query()
	t := s.clock.Ticker(s.cfg.QueryInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.query()
		}
	}
}

func (s *Service) query() {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			s.handleEntry(e)
		}
	}()

	params := &mdns.QueryParam{
		Service:             s.cfg.ServiceTag,
		Domain:              s.cfg.Domain,
		Timeout:             s.cfg.QueryTimeout,
		Interface:           s.iface(),
		Entries:             entries,
		WantUnicastResponse: true,
		DisableIPv6:         s.cfg.DisableIPv6,
	}
	if err := mdns.Query(params); err != nil {
		log.Debug("mDNS 查询失败", "err", err)
	}
	close(entries)
	<-done
}

// handleEntry 处理一条应答；TXT 中没有地址时回退到 A 记录加端口
func (s *Service) handleEntry(e *mdns.ServiceEntry) {
	if e == nil {
		return
	}
	id, addrs, err := parseTXT(e.InfoFields)
	if err != nil {
		log.Debug("忽略无法解析的应答", "name", e.Name, "err", err)
		return
	}
	if id == s.host.ID() {
		return
	}
	if len(addrs) == 0 && e.AddrV4 != nil && e.Port > 0 {
		a, err := multiaddr.Parse(fmt.Sprintf("/ip4/%s/tcp/%d", e.AddrV4, e.Port))
		if err == nil {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return
	}
	s.observe(id, addrs)
}

// observe 记录一次发现，首次出现时发布事件
func (s *Service) observe(id types.PeerID, addrs []multiaddr.Multiaddr) {
	s.mu.Lock()
	e, known := s.peers[id]
	if !known {
		e = &peerEntry{}
		s.peers[id] = e
	}
	e.addrs = addrs
	e.lastSeen = s.clock.Now()
	s.mu.Unlock()

	if known {
		return
	}
	log.Debug("发现节点", "peer", id.ShortString(), "addrs", len(addrs))
	_ = s.discovered.Emit(pkgif.EvtPeerDiscovered{Peer: id, Addrs: addrs, Source: Source})
}

// ============================================================================
//                              过期
// ============================================================================

func (s *Service) expireLoop() {
	defer s.wg.Done()

	t := s.clock.Ticker(s.cfg.TTL / 4)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.expire()
		}
	}
}

func (s *Service) expire() {
	now := s.clock.Now()
	var gone []types.PeerID

	s.mu.Lock()
	for id, e := range s.peers {
		if now.Sub(e.lastSeen) > s.cfg.TTL {
			delete(s.peers, id)
			gone = append(gone, id)
		}
	}
	s.mu.Unlock()

	for _, id := range gone {
		log.Debug("节点过期", "peer", id.ShortString())
		_ = s.expired.Emit(pkgif.EvtPeerExpired{Peer: id, Source: Source})
	}
}

// Peers 当前仍有效的已发现节点
func (s *Service) Peers() []pkgif.AddrInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pkgif.AddrInfo, 0, len(s.peers))
	for id, e := range s.peers {
		out = append(out, pkgif.AddrInfo{ID: id, Addrs: append([]multiaddr.Multiaddr(nil), e.addrs...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
