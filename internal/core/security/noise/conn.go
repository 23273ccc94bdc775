package noise

import (
	"fmt"
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/types"
)

// maxPlaintext 单帧最大明文（留出 AEAD tag）
const maxPlaintext = maxFrameSize - 16

// secureConn Noise 安全连接
type secureConn struct {
	net.Conn

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	local     types.PeerID
	remote    types.PeerID
	remoteKey crypto.PublicKey

	readMu  sync.Mutex
	writeMu sync.Mutex
	readBuf []byte
}

var _ pkgif.SecureConn = (*secureConn)(nil)

// Read 读取并解密
func (c *secureConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.readBuf) == 0 {
		frame, err := readFrame(c.Conn)
		if err != nil {
			return 0, err
		}
		plain, err := c.recvCS.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, fmt.Errorf("decrypt: %w", err)
		}
		c.readBuf = plain
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write 加密并写入，超过单帧上限时分帧
func (c *secureConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := min(written+maxPlaintext, len(p))
		ct, err := c.sendCS.Encrypt(nil, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt: %w", err)
		}
		if err := writeFrame(c.Conn, ct); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (c *secureConn) LocalPeer() types.PeerID           { return c.local }
func (c *secureConn) RemotePeer() types.PeerID          { return c.remote }
func (c *secureConn) RemotePublicKey() crypto.PublicKey { return c.remoteKey }
