package noise

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("core.security.noise")

// ID 协议标识
const ID = types.ProtocolID("/noise")

// Transport Noise 安全传输
type Transport struct {
	identity pkgif.Identity
}

var _ pkgif.SecureTransport = (*Transport)(nil)

// New 创建 Noise 传输
func New(identity pkgif.Identity) (*Transport, error) {
	if identity == nil {
		return nil, fmt.Errorf("noise: identity is nil")
	}
	return &Transport{identity: identity}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID { return ID }

// SecureInbound 作为响应方握手
func (t *Transport) SecureInbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (pkgif.SecureConn, error) {
	return t.secure(ctx, conn, remotePeer, false)
}

// SecureOutbound 作为发起方握手
func (t *Transport) SecureOutbound(ctx context.Context, conn net.Conn, remotePeer types.PeerID) (pkgif.SecureConn, error) {
	return t.secure(ctx, conn, remotePeer, true)
}

func (t *Transport) secure(ctx context.Context, conn net.Conn, remotePeer types.PeerID, initiator bool) (pkgif.SecureConn, error) {
	if conn == nil {
		return nil, ErrNilConn
	}

	// ctx 取消时打断阻塞的握手读写
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	sc, err := performHandshake(conn, t.identity.PrivateKey(), remotePeer, initiator)
	stop()
	_ = conn.SetDeadline(time.Time{})

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		log.Debug("Noise 握手失败", "initiator", initiator, "error", err)
		return nil, fmt.Errorf("noise handshake: %w", err)
	}
	log.Debug("Noise 握手成功", "initiator", initiator, "remotePeer", sc.remote.ShortString())
	return sc, nil
}
