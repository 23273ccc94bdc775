package noise

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"filippo.io/edwards25519"
	"github.com/flynn/noise"

	"github.com/retoro/go-retoro/pkg/lib/crypto"
	"github.com/retoro/go-retoro/pkg/lib/wire"
	"github.com/retoro/go-retoro/pkg/types"
)

// payloadSigPrefix 身份签名前缀
const payloadSigPrefix = "retoro-noise-static-key:"

const (
	fieldIdentityKey = 1
	fieldIdentitySig = 2
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// ============================================================================
//                              Noise XX 握手
// ============================================================================

// performHandshake 执行握手；remotePeer 非空时校验对端身份
func performHandshake(conn net.Conn, priv crypto.PrivateKey, remotePeer types.PeerID, initiator bool) (*secureConn, error) {
	privRaw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("get private key bytes: %w", err)
	}
	pubRaw, err := priv.GetPublic().Raw()
	if err != nil {
		return nil, fmt.Errorf("get public key bytes: %w", err)
	}

	curvePriv := ed25519ToCurve25519Private(privRaw)
	curvePub, err := ed25519ToCurve25519Public(pubRaw)
	if err != nil {
		return nil, err
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: noise.DHKey{Private: curvePriv, Public: curvePub},
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	localPayload, err := generatePayload(priv, curvePub)
	if err != nil {
		return nil, err
	}

	var (
		sendCS, recvCS *noise.CipherState
		remotePayload  []byte
	)
	if initiator {
		sendCS, recvCS, remotePayload, err = clientHandshake(conn, hs, localPayload)
	} else {
		sendCS, recvCS, remotePayload, err = serverHandshake(conn, hs, localPayload)
	}
	if err != nil {
		return nil, err
	}

	remoteKey, err := handleRemotePayload(remotePayload, hs.PeerStatic())
	if err != nil {
		return nil, err
	}
	actual, err := crypto.PeerIDFromPublicKey(remoteKey)
	if err != nil {
		return nil, fmt.Errorf("derive remote peer id: %w", err)
	}
	if !remotePeer.IsEmpty() && actual != remotePeer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerMismatch, remotePeer.ShortString(), actual.ShortString())
	}

	local, err := crypto.PeerIDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive local peer id: %w", err)
	}

	return &secureConn{
		Conn:      conn,
		sendCS:    sendCS,
		recvCS:    recvCS,
		local:     local,
		remote:    actual,
		remoteKey: remoteKey,
	}, nil
}

// generatePayload 生成本地握手 payload
func generatePayload(priv crypto.PrivateKey, curvePub []byte) ([]byte, error) {
	keyBytes, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sig, err := priv.Sign(append([]byte(payloadSigPrefix), curvePub...))
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	var b []byte
	b = wire.AppendBytes(b, fieldIdentityKey, keyBytes)
	b = wire.AppendBytes(b, fieldIdentitySig, sig)
	return b, nil
}

// handleRemotePayload 验证对端 payload 并返回身份公钥
func handleRemotePayload(payload, remoteStatic []byte) (crypto.PublicKey, error) {
	if len(remoteStatic) != 32 {
		return nil, fmt.Errorf("%w: static key length %d", ErrInvalidPayload, len(remoteStatic))
	}

	var keyBytes, sig []byte
	r := wire.NewReader(payload)
	for r.Next() {
		switch r.Field() {
		case fieldIdentityKey:
			keyBytes = r.Bytes()
		case fieldIdentitySig:
			sig = r.Bytes()
		default:
			r.Skip()
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(keyBytes) == 0 || len(sig) == 0 {
		return nil, ErrInvalidPayload
	}

	key, err := crypto.UnmarshalPublicKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	ok, err := key.Verify(append([]byte(payloadSigPrefix), remoteStatic...), sig)
	if err != nil || !ok {
		return nil, ErrInvalidSignature
	}
	return key, nil
}

// clientHandshake 发起方：-> e；<- e, ee, s, es；-> s, se
func clientHandshake(conn net.Conn, hs *noise.HandshakeState, payload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeFrame(conn, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	msg2, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	msg3, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeFrame(conn, msg3); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 3: %w", err)
	}
	return cs1, cs2, remotePayload, nil
}

// serverHandshake 响应方
func serverHandshake(conn net.Conn, hs *noise.HandshakeState, payload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	msg1, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err = hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeFrame(conn, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	msg3, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 3: %w", err)
	}
	// 响应方方向相反
	return cs2, cs1, remotePayload, nil
}

// ============================================================================
//                              密钥转换
// ============================================================================

// ed25519ToCurve25519Private 私钥种子 SHA-512 后取前 32 字节并 clamp（RFC 7748）
func ed25519ToCurve25519Private(edPriv []byte) []byte {
	seed := edPriv
	if len(edPriv) == ed25519.PrivateKeySize {
		seed = edPriv[:ed25519.SeedSize]
	}
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// ed25519ToCurve25519Public Edwards 点转 Montgomery u 坐标
func ed25519ToCurve25519Public(edPub []byte) ([]byte, error) {
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return point.BytesMontgomery(), nil
}

// ============================================================================
//                              帧
// ============================================================================

// maxFrameSize Noise 消息上限
const maxFrameSize = 65535

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("noise frame too large: %d", len(data))
	}
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
