package nat

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

var log = logger.Logger("nat")

// listenPort 本机监听的传输端口
type listenPort struct {
	proto string // "tcp" 或 "udp"
	port  int
}

type mapping struct {
	mapper   string
	external int
}

// Service 端口映射与公网地址探测
type Service struct {
	host  pkgif.Host
	cfg   Config
	clock clock.Clock

	// discover 可在测试中替换
	discover func(ctx context.Context) (portMapper, error)

	mu       sync.Mutex
	mapper   portMapper
	mappings map[listenPort]mapping
	ports    []listenPort

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建服务
func New(h pkgif.Host, cfg Config, clk clock.Clock) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:     h,
		cfg:      cfg,
		clock:    clk,
		discover: discoverMapper,
		mappings: make(map[listenPort]mapping),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 订阅地址变化并执行首次映射
func (s *Service) Start() error {
	sub, err := s.host.EventBus().Subscribe(new(pkgif.EvtLocalAddrsUpdated), pkgif.BufSize(8))
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go s.loop(sub)
	log.Info("NAT 服务已启动", "portmap", s.cfg.EnablePortMap, "stun", len(s.cfg.STUNServers))
	return nil
}

// Stop 停止服务并删除已建立的映射
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for lp, m := range s.mappings {
		if s.mapper == nil {
			break
		}
		if err := s.mapper.DeleteMapping(ctx, lp.proto, lp.port, m.external); err != nil {
			log.Debug("删除端口映射失败", "proto", lp.proto, "port", lp.port, "err", err)
		}
	}
	clear(s.mappings)
}

func (s *Service) loop(sub pkgif.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	ticker := s.clock.Ticker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	s.refresh(true)
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-sub.Out():
			if !ok {
				return
			}
			// 观测地址的加入同样会触发本事件，只在监听端口变化时重做
			s.refresh(false)
		case <-ticker.C:
			s.refresh(true)
		}
	}
}

// refresh 建立或续租映射并上报外部地址
func (s *Service) refresh(force bool) {
	ports := listenPorts(s.host.ListenAddrs())

	s.mu.Lock()
	changed := !slices.Equal(ports, s.ports)
	s.ports = ports
	s.mu.Unlock()
	if !force && !changed {
		return
	}
	if len(ports) == 0 {
		return
	}

	var observed []multiaddr.Multiaddr
	if s.cfg.EnablePortMap {
		observed = append(observed, s.portMap(ports)...)
	}
	if len(s.cfg.STUNServers) > 0 {
		if ip, err := s.stunIP(); err == nil {
			for _, lp := range ports {
				if m, err := multiaddr.FromAddrPort(netip.AddrPortFrom(ip, uint16(lp.port)), lp.proto); err == nil {
					observed = append(observed, m)
				}
			}
		} else {
			log.Debug("STUN 探测失败", "err", err)
		}
	}
	for _, m := range multiaddr.Unique(observed) {
		s.host.AddObservedAddr(m)
	}
}

func (s *Service) portMap(ports []listenPort) []multiaddr.Multiaddr {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DiscoveryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mapper == nil {
		m, err := s.discover(ctx)
		if err != nil {
			log.Debug("未发现端口映射网关", "err", err)
			return nil
		}
		s.mapper = m
		log.Info("发现端口映射网关", "type", m.Name())
	}

	ip, err := s.mapper.ExternalIP(ctx)
	if err != nil || !ip.IsValid() || ip.IsUnspecified() {
		log.Debug("获取外部 IP 失败", "mapper", s.mapper.Name(), "err", err)
		return nil
	}

	var out []multiaddr.Multiaddr
	for _, lp := range ports {
		ext, err := s.mapper.AddMapping(ctx, lp.proto, lp.port, s.cfg.MappingLifetime)
		if err != nil {
			log.Debug("端口映射失败", "proto", lp.proto, "port", lp.port, "err", err)
			continue
		}
		s.mappings[lp] = mapping{mapper: s.mapper.Name(), external: ext}
		if m, err := multiaddr.FromAddrPort(netip.AddrPortFrom(ip, uint16(ext)), lp.proto); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// stunIP 依次询问服务器，返回第一个成功的公网 IP
func (s *Service) stunIP() (netip.Addr, error) {
	var lastErr error = ErrNoServers
	for _, srv := range s.cfg.STUNServers {
		ap, err := stunExternal(s.ctx, srv, s.cfg.STUNTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		return ap.Addr(), nil
	}
	return netip.Addr{}, lastErr
}

// Mappings 当前映射（内部端口 -> 外部端口），按协议区分
func (s *Service) Mappings() map[string]map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[int]int)
	for lp, m := range s.mappings {
		if out[lp.proto] == nil {
			out[lp.proto] = make(map[int]int)
		}
		out[lp.proto][lp.port] = m.external
	}
	return out
}

// listenPorts 提取非中继监听地址的端口，结果有序
func listenPorts(addrs []multiaddr.Multiaddr) []listenPort {
	var out []listenPort
	for _, a := range addrs {
		if a.IsRelayed() {
			continue
		}
		port, ok := a.Port()
		if !ok || port == 0 {
			continue
		}
		var lp listenPort
		switch {
		case a.IsTCP():
			lp = listenPort{proto: "tcp", port: port}
		case a.IsQUIC():
			lp = listenPort{proto: "udp", port: port}
		default:
			continue
		}
		if !slices.Contains(out, lp) {
			out = append(out, lp)
		}
	}
	slices.SortFunc(out, func(a, b listenPort) int {
		if a.proto != b.proto {
			if a.proto < b.proto {
				return -1
			}
			return 1
		}
		return a.port - b.port
	})
	return out
}
