package relay

import (
	"net"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
)

// circuitConn 把电路流当作 net.Conn 交给升级器
type circuitConn struct {
	pkgif.Stream

	laddr multiaddr.Multiaddr
	raddr multiaddr.Multiaddr
}

var _ net.Conn = (*circuitConn)(nil)

func (c *circuitConn) LocalAddr() net.Addr  { return circuitAddr{c.laddr} }
func (c *circuitConn) RemoteAddr() net.Addr { return circuitAddr{c.raddr} }

// circuitAddr 电路地址的 net.Addr 形式
type circuitAddr struct {
	ma multiaddr.Multiaddr
}

func (a circuitAddr) Network() string { return "p2p-circuit" }
func (a circuitAddr) String() string  { return a.ma.String() }
