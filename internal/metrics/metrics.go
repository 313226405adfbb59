// Package metrics exposes the reactor's live state as Prometheus
// gauges, following the namespace/subsystem and promauto conventions
// MiraiMindz-watt/shockwave uses for its buffer pool metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reactorhttpd",
		Subsystem: "reactor",
		Name:      "active_connections",
		Help:      "Number of connections currently tracked by the reactor.",
	})

	workerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reactorhttpd",
		Subsystem: "workerpool",
		Name:      "queue_depth",
		Help:      "Number of tasks waiting for a free worker goroutine.",
	})

	timerHeapSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reactorhttpd",
		Subsystem: "timerheap",
		Name:      "size",
		Help:      "Number of live idle-timeout timers.",
	})

	sqlFreeHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reactorhttpd",
		Subsystem: "sqlpool",
		Name:      "free_handles",
		Help:      "Number of SQL handles currently idle in the pool.",
	})

	logQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reactorhttpd",
		Subsystem: "logsink",
		Name:      "queue_depth",
		Help:      "Number of formatted log lines waiting to be flushed.",
	})
)

// Sources is the minimal read side each collaborator exposes so the
// collector can sample it on every scrape rather than push updates
// itself.
type Sources struct {
	ActiveConnections func() int
	QueueDepth        func() int
	TimerCount        func() int
	SQLFreeCount      func() int
	LogQueueDepth     func() int
}

// Collector is an unchecked prometheus.Collector: it emits nothing of
// its own and exists only so registering it gives the registry a hook
// to call on every scrape. The gauges themselves were already
// registered by promauto.NewGauge at package init, the same split
// shockwave's PrometheusCollector uses ("metrics are already
// registered via promauto, this is a no-op for compatibility") —
// registering this collector a second time with the same descriptors
// would make prometheus.MustRegister panic on duplicate registration.
type Collector struct {
	src Sources
}

// NewCollector wraps src for registration with a prometheus.Registerer.
func NewCollector(src Sources) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect samples Sources and updates the package-level gauges as a
// side effect; it sends nothing to ch itself, since the gauges report
// themselves to the registry independently.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.ActiveConnections != nil {
		activeConnections.Set(float64(c.src.ActiveConnections()))
	}
	if c.src.QueueDepth != nil {
		workerQueueDepth.Set(float64(c.src.QueueDepth()))
	}
	if c.src.TimerCount != nil {
		timerHeapSize.Set(float64(c.src.TimerCount()))
	}
	if c.src.SQLFreeCount != nil {
		sqlFreeHandles.Set(float64(c.src.SQLFreeCount()))
	}
	if c.src.LogQueueDepth != nil {
		logQueueDepth.Set(float64(c.src.LogQueueDepth()))
	}
}
