package types

import (
	"errors"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点标识，序列化公钥的 SHA256 哈希
//
// 外部表示为 Base58 字符串，出现在 /p2p/<PeerID> 地址组件、
// mDNS TXT 记录和日志中。
type PeerID [32]byte

// EmptyPeerID 空节点标识
var EmptyPeerID PeerID

// ErrInvalidPeerID 无效的节点标识
var ErrInvalidPeerID = errors.New("invalid peer id: must be base58 of 32 bytes")

// String 返回 Base58 表示
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回日志用的短标识
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回原始字节
func (id PeerID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// IsEmpty 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// MarshalText 实现 encoding.TextMarshaler
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PeerIDFromBytes 从原始字节创建 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != len(id) {
		return EmptyPeerID, ErrInvalidPeerID
	}
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 解析 Base58 字符串
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrInvalidPeerID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议标识，格式 /name/version
type ProtocolID string

// String 返回协议字符串
func (p ProtocolID) String() string {
	return string(p)
}
