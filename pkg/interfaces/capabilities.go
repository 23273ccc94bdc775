package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              能力接口
// ════════════════════════════════════════════════════════════════════════════

// Discovery 节点发现：静态引导 + 本地网络发现
type Discovery interface {
	// Bootstrap 对每个引导地址尝试一次拨号，返回失败列表（不重试）
	Bootstrap(ctx context.Context, addrs []multiaddr.Multiaddr) []error

	// Peers 当前仍有效的已发现节点
	Peers() []AddrInfo
}

// PubSub 发布订阅覆盖网络
type PubSub interface {
	// Join 加入主题
	Join(topic string) error

	// Leave 离开主题
	Leave(topic string) error

	// Publish 向已加入的主题发布数据
	Publish(ctx context.Context, topic string, data []byte) error

	// AddExplicitPeer 添加显式节点：始终转发，不参与 mesh 维护
	AddExplicitPeer(p types.PeerID)

	// RemoveExplicitPeer 移除显式节点
	RemoveExplicitPeer(p types.PeerID)

	// Topics 已加入的主题
	Topics() []string

	// ListPeers 订阅了主题的已知节点
	ListPeers(topic string) []types.PeerID
}

// ConnectivityUpgrade 受限节点的连通性：中继电路与直连升级
type ConnectivityUpgrade interface {
	// Relays 当前持有预留的中继节点
	Relays() []types.PeerID

	// RelayAddrs 经由中继可达的本机地址
	RelayAddrs() []multiaddr.Multiaddr

	// DirectConnect 尝试把到 p 的中继连接升级为直连
	DirectConnect(ctx context.Context, p types.PeerID) error
}

// IdentifyInfo identify 协议交换的节点信息
type IdentifyInfo struct {
	ProtocolVersion string
	AgentVersion    string

	// DisplayName 节点显示名称
	DisplayName string

	ListenAddrs []multiaddr.Multiaddr

	// ObservedAddr 对端看到的本机地址
	ObservedAddr multiaddr.Multiaddr

	Protocols []types.ProtocolID
}

// PeerInfo 节点信息查询
type PeerInfo interface {
	// Info 返回最近一次 identify 的结果
	Info(p types.PeerID) (IdentifyInfo, bool)

	// Identify 主动对节点执行 identify
	Identify(ctx context.Context, p types.PeerID) (IdentifyInfo, error)
}

// Liveness 存活检测
type Liveness interface {
	// Ping 测量往返时延
	Ping(ctx context.Context, p types.PeerID) (time.Duration, error)
}

// ════════════════════════════════════════════════════════════════════════════
//                              分发表
// ════════════════════════════════════════════════════════════════════════════

// ErrMissingCapability 分发表缺少能力
var ErrMissingCapability = errors.New("missing capability")

// Capabilities 节点运行时使用的固定能力表
type Capabilities struct {
	Host      Host
	Discovery Discovery
	PubSub    PubSub
	Upgrade   ConnectivityUpgrade
	PeerInfo  PeerInfo
	Liveness  Liveness
}

// Validate 检查每一项能力都已提供
func (c Capabilities) Validate() error {
	var missing []string
	if c.Host == nil {
		missing = append(missing, "host")
	}
	if c.Discovery == nil {
		missing = append(missing, "discovery")
	}
	if c.PubSub == nil {
		missing = append(missing, "pubsub")
	}
	if c.Upgrade == nil {
		missing = append(missing, "upgrade")
	}
	if c.PeerInfo == nil {
		missing = append(missing, "peerinfo")
	}
	if c.Liveness == nil {
		missing = append(missing, "liveness")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCapability, strings.Join(missing, ", "))
	}
	return nil
}
