// Package metrics holds the prometheus collectors of the sync engine and
// the fasthttp handlers that expose them.
package metrics

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

const namespace = "chatsync"

var (
	// OutboxPushes counts remote writes by operation (insert, update) and
	// result (ok, transient, rejected, storage).
	OutboxPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "pushes_total",
		Help:      "Remote writes attempted by the outbox.",
	}, []string{"op", "result"})

	// OutboxPasses counts sync passes by how they ended.
	OutboxPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "passes_total",
		Help:      "Outbox sync passes by outcome.",
	}, []string{"outcome"})

	OutboxPushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "push_seconds",
		Help:      "Latency of a single remote write.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	OutboxRetryAttempt = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "retry_attempt",
		Help:      "Current position in the outbox backoff schedule; 0 when idle.",
	})

	// ListenerEvents counts feed events by kind and what the store did.
	ListenerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "events_total",
		Help:      "Remote feed events folded into the store.",
	}, []string{"kind", "outcome"})

	ListenerResubscribes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "resubscribes_total",
		Help:      "Feeds reopened after a dropped subscription.",
	})

	ListenerSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "subscriptions",
		Help:      "Open conversation feeds.",
	})

	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online",
		Help:      "1 when the remote store is reachable.",
	})

	heapAlloc = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes.",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return float64(stats.HeapAlloc)
	})
)

func init() {
	prometheus.MustRegister(
		OutboxPushes,
		OutboxPasses,
		OutboxPushSeconds,
		OutboxRetryAttempt,
		ListenerEvents,
		ListenerResubscribes,
		ListenerSubscriptions,
		Online,
		heapAlloc,
		storeStats,
	)
}

// SetOnline mirrors the connectivity state.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}

// StatsSource returns the current store counts.
type StatsSource func() (models.StoreStats, error)

var statsSource atomic.Pointer[StatsSource]

// SetStatsSource points the store gauges at fn. Pass nil to detach.
func SetStatsSource(fn StatsSource) {
	if fn == nil {
		statsSource.Store(nil)
		return
	}
	statsSource.Store(&fn)
}

// storeCollector reads the store once per scrape.
type storeCollector struct {
	messages, pending, dirty, deleted, conversations *prometheus.Desc
}

var storeStats = &storeCollector{
	messages:      prometheus.NewDesc(namespace+"_store_messages", "Messages in the local store.", nil, nil),
	pending:       prometheus.NewDesc(namespace+"_store_pending", "Messages without a remote identity.", nil, nil),
	dirty:         prometheus.NewDesc(namespace+"_store_dirty", "Synced messages with unpushed local changes.", nil, nil),
	deleted:       prometheus.NewDesc(namespace+"_store_deleted", "Soft deleted messages.", nil, nil),
	conversations: prometheus.NewDesc(namespace+"_store_conversations", "Conversations with at least one message.", nil, nil),
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.pending
	ch <- c.dirty
	ch <- c.deleted
	ch <- c.conversations
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	src := statsSource.Load()
	if src == nil {
		return
	}
	st, err := (*src)()
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(st.Messages))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.dirty, prometheus.GaugeValue, float64(st.Dirty))
	ch <- prometheus.MustNewConstMetric(c.deleted, prometheus.GaugeValue, float64(st.Deleted))
	ch <- prometheus.MustNewConstMetric(c.conversations, prometheus.GaugeValue, float64(st.Conversations))
}

// Wrap adapts a net/http handler to fasthttp.
func Wrap(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// Handler serves the default registry in the prometheus text format.
func Handler() fasthttp.RequestHandler {
	return Wrap(promhttp.Handler())
}

// PprofHandlers returns the runtime profiling endpoints keyed by the path
// suffix under the debug prefix.
func PprofHandlers() map[string]fasthttp.RequestHandler {
	return map[string]fasthttp.RequestHandler{
		"":        Wrap(http.HandlerFunc(pprof.Index)),
		"cmdline": Wrap(http.HandlerFunc(pprof.Cmdline)),
		"profile": Wrap(http.HandlerFunc(pprof.Profile)),
		"symbol":  Wrap(http.HandlerFunc(pprof.Symbol)),
		"trace":   Wrap(http.HandlerFunc(pprof.Trace)),
	}
}
