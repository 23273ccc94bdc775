package nat

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun"
)

// normalizeServer 去掉 stun: / stun:// 前缀
func normalizeServer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "stun://")
	s = strings.TrimPrefix(s, "stun:")
	return s
}

// stunExternal 发送 Binding 请求，返回服务器看到的地址
func stunExternal(ctx context.Context, server string, timeout time.Duration) (netip.AddrPort, error) {
	raddr, err := net.ResolveUDPAddr("udp", normalizeServer(server))
	if err != nil {
		return netip.AddrPort{}, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if _, err := req.WriteTo(conn); err != nil {
		return netip.AddrPort{}, err
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return netip.AddrPort{}, ctx.Err()
			}
			return netip.AddrPort{}, err
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil || res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddress(res)
	}
}

// mappedAddress 优先 XOR-MAPPED-ADDRESS，回退 MAPPED-ADDRESS
func mappedAddress(res *stun.Message) (netip.AddrPort, error) {
	var (
		ip   net.IP
		port int
	)
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(res); err == nil {
		ip, port = xor.IP, xor.Port
	} else {
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(res); err != nil {
			return netip.AddrPort{}, ErrNoMappedAddress
		}
		ip, port = mapped.IP, mapped.Port
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, ErrNoMappedAddress
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}
