package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/retoro/go-retoro/internal/core/host"
	"github.com/retoro/go-retoro/internal/core/messaging/gossipsub"
	pkgif "github.com/retoro/go-retoro/pkg/interfaces"
)

func TestCollector_Counts(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.CommandProcessed("send_message")
	c.CommandProcessed("send_message")
	c.CommandProcessed("shutdown")
	c.EventEmitted("received_message")
	c.EventsDropped(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commands.WithLabelValues("send_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("shutdown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("received_message")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.eventsDropped))
}

func TestCollector_Conns(t *testing.T) {
	c := New(nil)

	c.ConnOpened("tcp", pkgif.DirInbound)
	c.ConnOpened("quic", pkgif.DirOutbound)
	c.ConnClosed("tcp")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsOpened.WithLabelValues("tcp", pkgif.DirInbound.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connsClosed.WithLabelValues("tcp")))
}

func TestCollector_Gossip(t *testing.T) {
	c := New(nil)

	c.MessagePublished("main")
	c.MessageDelivered("main")
	c.MessageDelivered("main")
	c.MessageRejected("bad signature")
	c.MessageDuplicate()
	c.RPCDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.gossipPublished.WithLabelValues("main")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.gossipDelivered.WithLabelValues("main")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gossipRejected.WithLabelValues("bad signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gossipDuplicate))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rpcDropped))
}

func TestCollector_Handler(t *testing.T) {
	c := New(nil)
	c.CommandProcessed("ping")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `retoro_commands_processed_total{kind="ping"} 1`))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestModule(t *testing.T) {
	var (
		c  *Collector
		hr host.Reporter
		gr gossipsub.Reporter
	)
	app := fxtest.New(t,
		fx.Supply(fx.Annotate(prometheus.NewRegistry(), fx.As(new(prometheus.Registerer)))),
		Module(),
		fx.Populate(&c, &hr, &gr),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.Same(t, c, hr)
	assert.Same(t, c, gr)
}
