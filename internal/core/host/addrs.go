package host

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// observedTTL 观测地址有效期
const observedTTL = 30 * time.Minute

// addrBook 观测地址与上次通告的地址集合
type addrBook struct {
	mu       sync.Mutex
	clock    clock.Clock
	observed map[string]observedAddr
	last     map[string]struct{}
}

type observedAddr struct {
	addr     multiaddr.Multiaddr
	lastSeen time.Time
}

func newAddrBook(clk clock.Clock) *addrBook {
	return &addrBook{
		clock:    clk,
		observed: make(map[string]observedAddr),
		last:     make(map[string]struct{}),
	}
}

// add 记录观测地址，返回是否为新地址
func (b *addrBook) add(addr multiaddr.Multiaddr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := addr.String()
	_, ok := b.observed[k]
	b.observed[k] = observedAddr{addr: addr, lastSeen: b.clock.Now()}
	return !ok
}

func (b *addrBook) expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for k, o := range b.observed {
		if now.Sub(o.lastSeen) > observedTTL {
			delete(b.observed, k)
		}
	}
}

func (b *addrBook) list() []multiaddr.Multiaddr {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]multiaddr.Multiaddr, 0, len(b.observed))
	for _, o := range b.observed {
		out = append(out, o.addr)
	}
	return out
}

// diff 与上次通告比较，返回新增地址与是否有变化
func (b *addrBook) diff(current []multiaddr.Multiaddr) ([]multiaddr.Multiaddr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]struct{}, len(current))
	var added []multiaddr.Multiaddr
	for _, a := range current {
		k := a.String()
		next[k] = struct{}{}
		if _, ok := b.last[k]; !ok {
			added = append(added, a)
		}
	}
	changed := len(added) > 0 || len(next) != len(b.last)
	b.last = next
	return added, changed
}

// AddObservedAddr 记录对端观测到的本机地址
func (h *Host) AddObservedAddr(addr multiaddr.Multiaddr) {
	addr, _, _ = addr.SplitPeer()
	if addr.IsEmpty() || addr.IsRelayed() || addr.IsUnspecified() {
		return
	}
	if h.addrs.add(addr) {
		log.Debug("新的观测地址", "addr", addr)
		h.addrsChanged()
	}
}

// Addrs 对外通告的地址
//
// 未指定地址（0.0.0.0 / ::）展开为本机各网卡地址；中继监听器自身的
// /p2p-circuit 地址不通告。
func (h *Host) Addrs() []multiaddr.Multiaddr {
	var out []multiaddr.Multiaddr
	for _, la := range h.ListenAddrs() {
		if la.IsRelayed() {
			continue
		}
		if !la.IsUnspecified() {
			out = append(out, la)
			continue
		}
		out = append(out, expandUnspecified(la)...)
	}
	out = append(out, h.addrs.list()...)
	return multiaddr.Unique(out)
}

// addrsChanged 地址集合变化时发布 EvtLocalAddrsUpdated
func (h *Host) addrsChanged() {
	current := h.Addrs()
	added, changed := h.addrs.diff(current)
	if !changed {
		return
	}
	_ = h.emitAddrs.Emit(pkgif.EvtLocalAddrsUpdated{Current: current, Added: added})
}

// expandUnspecified 用本机网卡地址替换未指定地址
func expandUnspecified(la multiaddr.Multiaddr) []multiaddr.Multiaddr {
	ip, _ := la.IP()
	port, ok := la.Port()
	if !ok {
		return nil
	}
	network := "tcp"
	if la.IsQUIC() {
		network = "udp"
	}

	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Warn("获取网卡地址失败", "err", err)
		return nil
	}

	var out []multiaddr.Multiaddr
	for _, ia := range ifaddrs {
		ipnet, ok := ia.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() != ip.Is4() || addr.IsLinkLocalUnicast() {
			continue
		}
		m, err := multiaddr.FromAddrPort(netip.AddrPortFrom(addr, uint16(port)), network)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
