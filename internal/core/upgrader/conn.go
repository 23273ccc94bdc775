package upgrader

import (
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// upgradedConn 升级后的连接
type upgradedConn struct {
	pkgif.MuxedConn

	sec       pkgif.SecureConn
	transport pkgif.Transport
	laddr     multiaddr.Multiaddr
	raddr     multiaddr.Multiaddr
}

var _ pkgif.CapableConn = (*upgradedConn)(nil)

func (c *upgradedConn) LocalPeer() types.PeerID              { return c.sec.LocalPeer() }
func (c *upgradedConn) RemotePeer() types.PeerID             { return c.sec.RemotePeer() }
func (c *upgradedConn) RemotePublicKey() crypto.PublicKey    { return c.sec.RemotePublicKey() }
func (c *upgradedConn) LocalMultiaddr() multiaddr.Multiaddr  { return c.laddr }
func (c *upgradedConn) RemoteMultiaddr() multiaddr.Multiaddr { return c.raddr }
func (c *upgradedConn) Transport() pkgif.Transport           { return c.transport }
