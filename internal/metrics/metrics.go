// Package metrics collects Prometheus metrics for scan processing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records scan outcomes. It satisfies the scan core's Recorder
// interface; the numbers are observational only and never feed back into
// decisions.
type Collector struct {
	scans      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	failOpen   prometheus.Counter
	duration   prometheus.Histogram
}

// NewCollector registers the scan metrics on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_scans_total",
			Help: "Processed scan attempts by outcome.",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_scan_rejections_total",
			Help: "Rejected scans by reason.",
		}, []string{"reason"}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrattend_dedupe_failopen_total",
			Help: "Duplicate checks that failed open because the history lookup errored.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrattend_scan_duration_seconds",
			Help:    "Time spent deciding one scan attempt.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.scans, c.rejections, c.failOpen, c.duration)
	return c
}

// RecordScan counts one processed scan by outcome (accepted or rejected).
func (c *Collector) RecordScan(outcome string) {
	c.scans.WithLabelValues(outcome).Inc()
}

// RecordRejection counts one rejection by reason.
func (c *Collector) RecordRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// RecordFailOpen counts one fail-open duplicate check. A stricter deployment
// alerts on this.
func (c *Collector) RecordFailOpen() {
	c.failOpen.Inc()
}

// RecordDuration observes how long one scan decision took.
func (c *Collector) RecordDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}
