// Package vsqmetrics exposes a queue's diagnostic counters as Prometheus
// gauges, for processes that want to scrape queue health
// instead of polling it in-process.
package vsqmetrics

import "github.com/prometheus/client_golang/prometheus"

// Source is the subset of vsq.Queue/vsq.Tail/vsq.Head that Collector needs.
// vsq.Queue and vsq.Tail already satisfy it; pair it with a Head's
// EmptyCount via HeadSource when the consumer runs in a different process.
type Source interface {
	MaxQueueUsage() uint32
	MaxBytesInUse() uint32
	FullCount() uint64
}

// HeadSource is the consumer-side counterpart of Source.
type HeadSource interface {
	EmptyCount() uint64
}

// Collector registers and refreshes gauges for a queue's usage peaks and
// full/empty occurrence counts under the given namespace/subsystem.
type Collector struct {
	src  Source
	head HeadSource

	maxUsage      prometheus.Gauge
	maxBytesInUse prometheus.Gauge
	fullCount     prometheus.Gauge
	emptyCount    prometheus.Gauge
}

// NewCollector builds and registers a Collector's gauges against reg. head
// may be nil if the consumer side isn't observable from this process.
func NewCollector(reg prometheus.Registerer, namespace, subsystem string, src Source, head HeadSource) *Collector {
	c := &Collector{
		src:  src,
		head: head,
		maxUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "max_queue_usage",
			Help:      "largest number of records simultaneously queued since construction",
		}),
		maxBytesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "max_bytes_in_use",
			Help:      "largest cyclic byte span occupied between idxHead and the newest record",
		}),
		fullCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "full_count",
			Help:      "number of times AllocTail observed the queue full",
		}),
		emptyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "empty_count",
			Help:      "number of times ReadHead observed nothing new",
		}),
	}
	reg.MustRegister(c.maxUsage, c.maxBytesInUse, c.fullCount)
	if head != nil {
		reg.MustRegister(c.emptyCount)
	}
	return c
}

// Refresh samples the current counter values into the registered gauges.
// Call it periodically (a ticker, or before every /metrics scrape) since
// vsq counters aren't pushed.
func (c *Collector) Refresh() {
	c.maxUsage.Set(float64(c.src.MaxQueueUsage()))
	c.maxBytesInUse.Set(float64(c.src.MaxBytesInUse()))
	c.fullCount.Set(float64(c.src.FullCount()))
	if c.head != nil {
		c.emptyCount.Set(float64(c.head.EmptyCount()))
	}
}
