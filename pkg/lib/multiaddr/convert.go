package multiaddr

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/retoro/go-retoro/pkg/types"
)

// FromNetAddr 把 net.Addr 转换为 multiaddr
//
// UDP 地址会附加 /quic-v1，retoro 只在 UDP 上运行 QUIC。
func FromNetAddr(addr net.Addr) (Multiaddr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return fromIPPort(a.IP, a.Port, "tcp", false)
	case *net.UDPAddr:
		return fromIPPort(a.IP, a.Port, "udp", true)
	default:
		return Multiaddr{}, fmt.Errorf("%w: unsupported net.Addr %T", ErrInvalid, addr)
	}
}

// FromAddrPort 从 netip.AddrPort 构建地址
func FromAddrPort(ap netip.AddrPort, network string) (Multiaddr, error) {
	return fromIPPort(ap.Addr().AsSlice(), int(ap.Port()), network, network == "udp")
}

func fromIPPort(ip net.IP, port int, transport string, quic bool) (Multiaddr, error) {
	ipProto := "ip6"
	if ip4 := ip.To4(); ip4 != nil {
		ip, ipProto = ip4, "ip4"
	}
	if ip == nil {
		ip, ipProto = net.IPv4zero.To4(), "ip4"
	}
	s := "/" + ipProto + "/" + ip.String() + "/" + transport + "/" + strconv.Itoa(port)
	if quic {
		s += "/quic-v1"
	}
	return Parse(s)
}

// DialArgs 返回 net.Dial 使用的 network 和 host:port
//
// network 为 tcp4/tcp6/tcp、udp4/udp6/udp；DNS 名称保持原样交给解析器。
func (m Multiaddr) DialArgs() (network, hostport string, err error) {
	if len(m.comps) < 2 {
		return "", "", ErrNotThinWaist
	}
	host, port := m.comps[0], m.comps[1]

	var suffix string
	switch host.Protocol.Code {
	case P_IP4, P_DNS4:
		suffix = "4"
	case P_IP6, P_DNS6:
		suffix = "6"
	case P_DNS:
	default:
		return "", "", ErrNotThinWaist
	}

	switch port.Protocol.Code {
	case P_TCP:
		network = "tcp" + suffix
	case P_UDP:
		network = "udp" + suffix
	default:
		return "", "", ErrNotThinWaist
	}
	return network, net.JoinHostPort(host.Value, port.Value), nil
}

// ToNetAddr 把 IP 形式的地址转换为 *net.TCPAddr 或 *net.UDPAddr
func (m Multiaddr) ToNetAddr() (net.Addr, error) {
	network, hostport, err := m.DialArgs()
	if err != nil {
		return nil, err
	}
	if h := m.comps[0].Protocol.Code; h != P_IP4 && h != P_IP6 {
		return nil, fmt.Errorf("%w: %s needs resolving", ErrNotThinWaist, m)
	}
	if network[:3] == "tcp" {
		return net.ResolveTCPAddr(network, hostport)
	}
	return net.ResolveUDPAddr(network, hostport)
}

// IP 返回首组件的 IP（仅 ip4/ip6 地址）
func (m Multiaddr) IP() (netip.Addr, bool) {
	if len(m.comps) == 0 {
		return netip.Addr{}, false
	}
	switch m.comps[0].Protocol.Code {
	case P_IP4, P_IP6:
		ip, err := netip.ParseAddr(m.comps[0].Value)
		return ip, err == nil
	}
	return netip.Addr{}, false
}

// Port 返回首个 tcp/udp 端口
func (m Multiaddr) Port() (int, bool) {
	for _, c := range m.comps {
		if c.Protocol.Code == P_TCP || c.Protocol.Code == P_UDP {
			p, err := strconv.Atoi(c.Value)
			return p, err == nil
		}
	}
	return 0, false
}

// IsTCP 是否为 TCP 地址
func (m Multiaddr) IsTCP() bool {
	return len(m.comps) >= 2 && m.comps[1].Protocol.Code == P_TCP && !m.IsRelayed()
}

// IsQUIC 是否为 QUIC 地址
func (m Multiaddr) IsQUIC() bool {
	return len(m.comps) >= 3 && m.comps[1].Protocol.Code == P_UDP &&
		m.comps[2].Protocol.Code == P_QUIC_V1 && !m.IsRelayed()
}

// IsRelayed 是否为中继电路地址
func (m Multiaddr) IsRelayed() bool {
	return m.HasProtocol(P_P2P_CIRCUIT)
}

// IsLoopback 是否为回环地址
func (m Multiaddr) IsLoopback() bool {
	ip, ok := m.IP()
	return ok && ip.IsLoopback()
}

// IsUnspecified 是否为 0.0.0.0 / ::
func (m Multiaddr) IsUnspecified() bool {
	ip, ok := m.IP()
	return ok && ip.IsUnspecified()
}

// IsPublic 是否为公网地址（DNS 地址视为公网）
func (m Multiaddr) IsPublic() bool {
	if len(m.comps) == 0 {
		return false
	}
	switch m.comps[0].Protocol.Code {
	case P_DNS, P_DNS4, P_DNS6:
		return true
	}
	ip, ok := m.IP()
	if !ok {
		return false
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() &&
		!ip.IsUnspecified() && !ip.IsMulticast()
}

// ============================================================================
//                              PeerID 组件
// ============================================================================

// SplitPeer 拆分尾部的 /p2p/<id>
func (m Multiaddr) SplitPeer() (Multiaddr, types.PeerID, bool) {
	n := len(m.comps)
	if n == 0 || m.comps[n-1].Protocol.Code != P_P2P {
		return m, types.EmptyPeerID, false
	}
	id, err := types.ParsePeerID(m.comps[n-1].Value)
	if err != nil {
		return m, types.EmptyPeerID, false
	}
	return Multiaddr{comps: m.comps[: n-1 : n-1]}, id, true
}

// WithPeer 附加 /p2p/<id>，已有 PeerID 时保持不变
func (m Multiaddr) WithPeer(id types.PeerID) Multiaddr {
	if _, _, ok := m.SplitPeer(); ok {
		return m
	}
	return m.Encapsulate(Multiaddr{comps: []Component{{Protocol: protocolsByCode[P_P2P], Value: id.String()}}})
}

// Unique 去重，保持原顺序
func Unique(addrs []Multiaddr) []Multiaddr {
	seen := make(map[string]struct{}, len(addrs))
	out := addrs[:0:0]
	for _, a := range addrs {
		k := a.String()
		if _, ok := seen[k]; ok || a.IsEmpty() {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Strings 批量转换为文本
func Strings(addrs []Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// ParseAll 批量解析
func ParseAll(ss []string) ([]Multiaddr, error) {
	out := make([]Multiaddr, 0, len(ss))
	for _, s := range ss {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
