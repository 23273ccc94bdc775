package multiaddr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-varint"

	"github.com/retoro/go-retoro/pkg/types"
)

// Component 地址中的一个协议组件
type Component struct {
	Protocol Protocol
	Value    string
}

// String 返回组件文本形式
func (c Component) String() string {
	if c.Protocol.Size == 0 {
		return "/" + c.Protocol.Name
	}
	return "/" + c.Protocol.Name + "/" + c.Value
}

// Multiaddr 多地址
type Multiaddr struct {
	comps []Component
}

// Parse 解析文本形式
func Parse(s string) (Multiaddr, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if s == "" {
		return Multiaddr{}, ErrEmpty
	}
	if s[0] != '/' {
		return Multiaddr{}, fmt.Errorf("%w: must begin with /: %q", ErrInvalid, s)
	}

	parts := strings.Split(s[1:], "/")
	comps := make([]Component, 0, len(parts)/2+1)
	for i := 0; i < len(parts); i++ {
		p, ok := ProtocolWithName(parts[i])
		if !ok {
			return Multiaddr{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, parts[i])
		}
		c := Component{Protocol: p}
		if p.Size != 0 {
			i++
			if i >= len(parts) {
				return Multiaddr{}, fmt.Errorf("%w: %s requires a value", ErrInvalid, p.Name)
			}
			v, err := normalizeValue(p, parts[i])
			if err != nil {
				return Multiaddr{}, err
			}
			c.Value = v
		}
		comps = append(comps, c)
	}
	return Multiaddr{comps: comps}, nil
}

// MustParse 解析失败时 panic，仅用于常量地址
func MustParse(s string) Multiaddr {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// NewComponent 构建单组件地址
func NewComponent(name, value string) (Multiaddr, error) {
	if value == "" {
		return Parse("/" + name)
	}
	return Parse("/" + name + "/" + value)
}

// FromBytes 解析二进制形式
func FromBytes(b []byte) (Multiaddr, error) {
	if len(b) == 0 {
		return Multiaddr{}, ErrEmpty
	}
	var comps []Component
	for len(b) > 0 {
		code, n, err := varint.FromUvarint(b)
		if err != nil {
			return Multiaddr{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		b = b[n:]
		p, ok := ProtocolWithCode(int(code))
		if !ok {
			return Multiaddr{}, fmt.Errorf("%w: code %d", ErrUnknownProtocol, code)
		}

		var raw []byte
		switch {
		case p.Size == 0:
		case p.Size > 0:
			size := p.Size / 8
			if len(b) < size {
				return Multiaddr{}, fmt.Errorf("%w: short %s value", ErrInvalid, p.Name)
			}
			raw, b = b[:size], b[size:]
		default:
			l, m, err := varint.FromUvarint(b)
			if err != nil {
				return Multiaddr{}, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			b = b[m:]
			if uint64(len(b)) < l {
				return Multiaddr{}, fmt.Errorf("%w: short %s value", ErrInvalid, p.Name)
			}
			raw, b = b[:l], b[l:]
		}

		v, err := valueFromBytes(p, raw)
		if err != nil {
			return Multiaddr{}, err
		}
		comps = append(comps, Component{Protocol: p, Value: v})
	}
	return Multiaddr{comps: comps}, nil
}

// Bytes 返回二进制形式
func (m Multiaddr) Bytes() []byte {
	var b []byte
	for _, c := range m.comps {
		b = append(b, varint.ToUvarint(uint64(c.Protocol.Code))...)
		raw := valueToBytes(c)
		if c.Protocol.Size == LengthPrefixedVarSize {
			b = append(b, varint.ToUvarint(uint64(len(raw)))...)
		}
		b = append(b, raw...)
	}
	return b
}

// String 返回文本形式
func (m Multiaddr) String() string {
	var sb strings.Builder
	for _, c := range m.comps {
		sb.WriteString(c.String())
	}
	return sb.String()
}

// IsEmpty 是否为空地址
func (m Multiaddr) IsEmpty() bool {
	return len(m.comps) == 0
}

// Equal 比较
func (m Multiaddr) Equal(o Multiaddr) bool {
	if len(m.comps) != len(o.comps) {
		return false
	}
	for i := range m.comps {
		if m.comps[i] != o.comps[i] {
			return false
		}
	}
	return true
}

// Components 返回组件副本
func (m Multiaddr) Components() []Component {
	out := make([]Component, len(m.comps))
	copy(out, m.comps)
	return out
}

// ValueForProtocol 返回第一个匹配协议的值
func (m Multiaddr) ValueForProtocol(code int) (string, bool) {
	for _, c := range m.comps {
		if c.Protocol.Code == code {
			return c.Value, true
		}
	}
	return "", false
}

// HasProtocol 是否包含协议
func (m Multiaddr) HasProtocol(code int) bool {
	_, ok := m.ValueForProtocol(code)
	return ok
}

// Encapsulate 追加地址
func (m Multiaddr) Encapsulate(o Multiaddr) Multiaddr {
	comps := make([]Component, 0, len(m.comps)+len(o.comps))
	comps = append(comps, m.comps...)
	comps = append(comps, o.comps...)
	return Multiaddr{comps: comps}
}

// DecapsulateCode 去掉最后一个指定协议及其后的组件
func (m Multiaddr) DecapsulateCode(code int) Multiaddr {
	for i := len(m.comps) - 1; i >= 0; i-- {
		if m.comps[i].Protocol.Code == code {
			return Multiaddr{comps: m.comps[:i:i]}
		}
	}
	return m
}

// MarshalText 实现 encoding.TextMarshaler
func (m Multiaddr) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (m *Multiaddr) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func normalizeValue(p Protocol, v string) (string, error) {
	switch p.Code {
	case P_IP4, P_IP6:
		ip, err := netip.ParseAddr(v)
		if err != nil || (p.Code == P_IP4) != ip.Is4() {
			return "", fmt.Errorf("%w: bad %s value %q", ErrInvalid, p.Name, v)
		}
		return ip.String(), nil
	case P_TCP, P_UDP:
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return "", fmt.Errorf("%w: bad port %q", ErrInvalid, v)
		}
		return strconv.FormatUint(port, 10), nil
	case P_P2P:
		id, err := types.ParsePeerID(v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return id.String(), nil
	case P_DNS, P_DNS4, P_DNS6:
		if v == "" || strings.ContainsRune(v, '/') {
			return "", fmt.Errorf("%w: bad dns name %q", ErrInvalid, v)
		}
		return v, nil
	}
	return v, nil
}

func valueToBytes(c Component) []byte {
	switch c.Protocol.Code {
	case P_IP4, P_IP6:
		ip := netip.MustParseAddr(c.Value)
		return ip.AsSlice()
	case P_TCP, P_UDP:
		port, _ := strconv.ParseUint(c.Value, 10, 16)
		return []byte{byte(port >> 8), byte(port)}
	case P_P2P:
		b, _ := base58.Decode(c.Value)
		return b
	case P_DNS, P_DNS4, P_DNS6:
		return []byte(c.Value)
	}
	return nil
}

func valueFromBytes(p Protocol, raw []byte) (string, error) {
	switch p.Code {
	case P_IP4, P_IP6:
		ip, ok := netip.AddrFromSlice(raw)
		if !ok {
			return "", fmt.Errorf("%w: bad %s bytes", ErrInvalid, p.Name)
		}
		return ip.String(), nil
	case P_TCP, P_UDP:
		return strconv.Itoa(int(raw[0])<<8 | int(raw[1])), nil
	case P_P2P:
		id, err := types.PeerIDFromBytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return id.String(), nil
	case P_DNS, P_DNS4, P_DNS6:
		return normalizeValue(p, string(raw))
	}
	return "", nil
}
