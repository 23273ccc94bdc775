package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

const namespace = "retoro"

// Collector 指标集合
type Collector struct {
	gatherer prometheus.Gatherer

	commands      *prometheus.CounterVec
	events        *prometheus.CounterVec
	eventsDropped prometheus.Counter

	gossipPublished *prometheus.CounterVec
	gossipDelivered *prometheus.CounterVec
	gossipRejected  *prometheus.CounterVec
	gossipDuplicate prometheus.Counter
	rpcDropped      prometheus.Counter

	connsOpened *prometheus.CounterVec
	connsClosed *prometheus.CounterVec
	connsActive prometheus.Gauge
}

// New 在 reg 上注册全部指标；reg 为 nil 时使用新建的独立注册表
//
// 同一注册表上重复创建会 panic。
func New(reg prometheus.Registerer) *Collector {
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}
	f := promauto.With(reg)

	return &Collector{
		gatherer: gatherer,

		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_processed_total",
			Help:      "Commands processed by the node runtime, by kind.",
		}, []string{"kind"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events published to subscribers, by kind.",
		}, []string{"kind"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events overwritten in lagging subscriber buffers.",
		}),

		gossipPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "published_total",
			Help:      "Messages published locally, by topic.",
		}, []string{"topic"}),
		gossipDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "delivered_total",
			Help:      "Remote messages delivered to the node, by topic.",
		}, []string{"topic"}),
		gossipRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rejected_total",
			Help:      "Messages failing validation, by reason.",
		}, []string{"reason"}),
		gossipDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "duplicate_total",
			Help:      "Messages already seen.",
		}),
		rpcDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "rpc_dropped_total",
			Help:      "RPCs dropped because a peer queue was full.",
		}),

		connsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "conns_opened_total",
			Help:      "Connections opened, by transport and direction.",
		}, []string{"transport", "direction"}),
		connsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "conns_closed_total",
			Help:      "Connections closed, by transport.",
		}, []string{"transport"}),
		connsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "conns_active",
			Help:      "Currently open connections.",
		}),
	}
}

// Handler 以 Prometheus 文本格式输出指标
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ============================================================================
//                              运行时
// ============================================================================

// CommandProcessed 记录一条已处理的命令
func (c *Collector) CommandProcessed(kind string) {
	c.commands.WithLabelValues(kind).Inc()
}

// EventEmitted 记录一条已发布的事件
func (c *Collector) EventEmitted(kind string) {
	c.events.WithLabelValues(kind).Inc()
}

// EventsDropped 记录订阅者缓冲区覆盖的事件数
func (c *Collector) EventsDropped(n uint64) {
	c.eventsDropped.Add(float64(n))
}

// ============================================================================
//                              Host
// ============================================================================

func (c *Collector) ConnOpened(transport string, dir pkgif.Direction) {
	c.connsOpened.WithLabelValues(transport, dir.String()).Inc()
	c.connsActive.Inc()
}

func (c *Collector) ConnClosed(transport string) {
	c.connsClosed.WithLabelValues(transport).Inc()
	c.connsActive.Dec()
}

// ============================================================================
//                              Gossip
// ============================================================================

func (c *Collector) MessagePublished(topic string) {
	c.gossipPublished.WithLabelValues(topic).Inc()
}

func (c *Collector) MessageDelivered(topic string) {
	c.gossipDelivered.WithLabelValues(topic).Inc()
}

func (c *Collector) MessageRejected(reason string) {
	c.gossipRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) MessageDuplicate() {
	c.gossipDuplicate.Inc()
}

func (c *Collector) RPCDropped() {
	c.rpcDropped.Inc()
}
