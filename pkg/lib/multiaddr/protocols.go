package multiaddr

// 协议代码（与 multiformats/multicodec 对齐）
const (
	P_IP4         = 0x0004
	P_TCP         = 0x0006
	P_UDP         = 0x0111
	P_IP6         = 0x0029
	P_DNS         = 0x0035
	P_DNS4        = 0x0036
	P_DNS6        = 0x0037
	P_P2P         = 0x01A5
	P_QUIC_V1     = 0x01CD
	P_P2P_CIRCUIT = 0x0122
)

// LengthPrefixedVarSize 变长值（varint 长度前缀）
const LengthPrefixedVarSize = -1

// Protocol 描述一个 multiaddr 协议
type Protocol struct {
	Name string
	Code int

	// Size 值的位数；0 表示无值，LengthPrefixedVarSize 表示变长
	Size int
}

// String 返回协议名
func (p Protocol) String() string {
	return p.Name
}

var protocols = []Protocol{
	{Name: "ip4", Code: P_IP4, Size: 32},
	{Name: "ip6", Code: P_IP6, Size: 128},
	{Name: "tcp", Code: P_TCP, Size: 16},
	{Name: "udp", Code: P_UDP, Size: 16},
	{Name: "dns", Code: P_DNS, Size: LengthPrefixedVarSize},
	{Name: "dns4", Code: P_DNS4, Size: LengthPrefixedVarSize},
	{Name: "dns6", Code: P_DNS6, Size: LengthPrefixedVarSize},
	{Name: "quic-v1", Code: P_QUIC_V1},
	{Name: "p2p", Code: P_P2P, Size: LengthPrefixedVarSize},
	{Name: "p2p-circuit", Code: P_P2P_CIRCUIT},
}

var (
	protocolsByName = make(map[string]Protocol, len(protocols))
	protocolsByCode = make(map[int]Protocol, len(protocols))
)

func init() {
	for _, p := range protocols {
		protocolsByName[p.Name] = p
		protocolsByCode[p.Code] = p
	}
	// 旧名称
	protocolsByName["ipfs"] = protocolsByCode[P_P2P]
}

// ProtocolWithName 按名称查找协议
func ProtocolWithName(name string) (Protocol, bool) {
	p, ok := protocolsByName[name]
	return p, ok
}

// ProtocolWithCode 按代码查找协议
func ProtocolWithCode(code int) (Protocol, bool) {
	p, ok := protocolsByCode[code]
	return p, ok
}
