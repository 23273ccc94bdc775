package retoro

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/fx"

	"github.com/retoro/go-retoro/internal/core/eventbus"
	"github.com/retoro/go-retoro/internal/core/metrics"
	"github.com/retoro/go-retoro/internal/core/storage"
	"github.com/retoro/go-retoro/internal/util/logger"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
	"github.com/retoro/go-retoro/pkg/lib/multiaddr"
	"github.com/retoro/go-retoro/pkg/types"
)

var log = logger.Logger("node")

// knownNodesCapacity 已知节点簿容量
const knownNodesCapacity = 1024

// ============================================================================
//                              状态
// ============================================================================

// State 节点生命周期状态
type State int32

const (
	StateInitializing State = iota
	StateListening
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// reporter 运行时指标
type reporter interface {
	CommandProcessed(kind string)
	EventEmitted(kind string)
	EventsDropped(n uint64)
}

type nopReporter struct{}

func (nopReporter) CommandProcessed(string) {}
func (nopReporter) EventEmitted(string)     {}
func (nopReporter) EventsDropped(uint64)    {}

// knownNode 已知节点簿的条目
type knownNode struct {
	repr     NodeRepr
	addrs    []multiaddr.Multiaddr
	lastSeen time.Time
}

// ============================================================================
//                              Node
// ============================================================================

// Node 消息节点
//
// 所有网络能力通过固定的能力表访问；频道、已知节点与显式节点集合只在
// Run 的协调循环中修改。
type Node struct {
	cfg  *resolvedConfig
	caps pkgif.Capabilities
	app  *fx.App
	clk  clock.Clock

	reporter  reporter
	collector *metrics.Collector

	nodeStore    *storage.Nodes
	channelStore *storage.Channels

	queue  *commandQueue
	events *eventbus.Broadcaster[Event]

	state   atomic.Int32
	started atomic.Bool

	// 协调循环内部状态
	channels map[string]*channelState
	explicit map[types.PeerID]struct{}
	known    *lru.Cache[types.PeerID, knownNode]

	channelsView atomic.Pointer[[]Channel]

	// 异步拨号
	wg sync.WaitGroup
}

// New 使用默认配置与选项创建节点
//
// 只构造组件，不打开任何监听；监听在 Run 中进行。
func New(opts ...Option) (*Node, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return NewWithConfig(&cfg)
}

// NewWithConfig 使用给定配置创建节点，cfg 为 nil 时使用默认配置
func NewWithConfig(cfg *Config) (*Node, error) {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	rc, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	app, c, err := buildApp(rc)
	if err != nil {
		return nil, err
	}

	n := newNode(rc, c.caps)
	n.app = app
	n.nodeStore = c.nodes
	n.channelStore = c.channels
	if c.collector != nil {
		n.collector = c.collector
		n.reporter = c.collector
	}
	return n, nil
}

// newNode 以给定能力表创建节点，不构建组件图
func newNode(rc *resolvedConfig, caps pkgif.Capabilities) *Node {
	known, _ := lru.New[types.PeerID, knownNode](knownNodesCapacity)
	n := &Node{
		cfg:      rc,
		caps:     caps,
		clk:      rc.Clock,
		reporter: nopReporter{},
		queue:    newCommandQueue(rc.CommandQueueSize),
		events:   eventbus.NewBroadcaster[Event](rc.EventBufferSize),
		channels: make(map[string]*channelState),
		explicit: make(map[types.PeerID]struct{}),
		known:    known,
	}
	n.events.OnDrop(func(d uint64) { n.reporter.EventsDropped(d) })
	n.channelsView.Store(&[]Channel{})
	return n
}

// ID 节点标识
func (n *Node) ID() types.PeerID {
	return n.caps.Host.ID()
}

// Name 显示名称
func (n *Node) Name() string {
	return n.cfg.Name
}

// State 当前状态
func (n *Node) State() State {
	return State(n.state.Load())
}

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
	log.Debug("节点状态变化", "state", s)
}

// Addrs 对外通告的地址（带 /p2p/<id>），开始监听后才有值
func (n *Node) Addrs() []string {
	id := n.ID()
	addrs := n.caps.Host.Addrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.WithPeer(id).String())
	}
	return out
}

// Commands 返回新的命令句柄
func (n *Node) Commands() *CommandHandle {
	return newCommandHandle(n.queue)
}

// Events 注册新的事件订阅者
func (n *Node) Events() *EventSubscription {
	return &EventSubscription{r: n.events.Subscribe()}
}

// Channels 已加入频道的快照
func (n *Node) Channels() []Channel {
	return slices.Clone(*n.channelsView.Load())
}

// KnownNodes 已知节点，最近见到的在前
func (n *Node) KnownNodes() []NodeRepr {
	entries := n.known.Values()
	slices.SortStableFunc(entries, func(a, b knownNode) int {
		return b.lastSeen.Compare(a.lastSeen)
	})
	out := make([]NodeRepr, len(entries))
	for i, e := range entries {
		out[i] = e.repr
	}
	return out
}

// MetricsHandler Prometheus 指标的 HTTP 处理器
func (n *Node) MetricsHandler() http.Handler {
	if n.collector == nil {
		return http.NotFoundHandler()
	}
	return n.collector.Handler()
}

// publishChannels 刷新频道快照，只在协调循环中调用
func (n *Node) publishChannels() {
	out := make([]Channel, 0, len(n.channels))
	for _, c := range n.channels {
		out = append(out, c.snapshot())
	}
	slices.SortFunc(out, func(a, b Channel) int { return strings.Compare(a.Name, b.Name) })
	n.channelsView.Store(&out)
}

// emit 发布公共事件
func (n *Node) emit(e Event) {
	n.reporter.EventEmitted(e.Kind())
	n.events.Publish(e)
}

func (n *Node) emitError(err error) {
	log.Warn("运行时错误", "err", err)
	n.emit(ErrorEvent{Err: err})
}
