// Package hdsmetrics exposes prometheus counters and histograms for the
// HDS adapter's fragment downloads and live-poll cycles.
package hdsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const service = "hdsfilter"

var defaultLatencyBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

// Metrics is the collector set registered against a prometheus.Registerer.
// It satisfies pkg/hdsstream.Metrics.
type Metrics struct {
	fragmentDownloads prometheus.Counter
	fragmentBytes     prometheus.Counter
	fragmentFailures  prometheus.Counter
	fragmentLatencyMS prometheus.Histogram
	livePollCycles    prometheus.Counter
	livePollLatencyMS prometheus.Histogram
}

// New creates and registers the metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fragmentDownloads: newCounter(reg, "fragment_downloads_total",
			"Number of fragments successfully downloaded."),
		fragmentBytes: newCounter(reg, "fragment_bytes_total",
			"Total bytes received across all fragment downloads."),
		fragmentFailures: newCounter(reg, "fragment_download_failures_total",
			"Number of fragment downloads that failed and were retried."),
		fragmentLatencyMS: newHistogram(reg, "fragment_download_duration_milliseconds",
			"Fragment download latency.", defaultLatencyBuckets),
		livePollCycles: newCounter(reg, "live_poll_cycles_total",
			"Number of live bootstrap poll cycles completed."),
		livePollLatencyMS: newHistogram(reg, "live_poll_duration_milliseconds",
			"Live bootstrap poll cycle latency.", defaultLatencyBuckets),
	}
	return m
}

// FragmentDownloaded records a successful fragment download.
func (m *Metrics) FragmentDownloaded(bytes int, dur time.Duration) {
	m.fragmentDownloads.Inc()
	m.fragmentBytes.Add(float64(bytes))
	m.fragmentLatencyMS.Observe(msFromDuration(dur))
}

// FragmentFailed records a fragment download that will be retried.
func (m *Metrics) FragmentFailed() {
	m.fragmentFailures.Inc()
}

// LivePollCycle records one completed live bootstrap poll cycle.
func (m *Metrics) LivePollCycle(dur time.Duration) {
	m.livePollCycles.Inc()
	m.livePollLatencyMS.Observe(msFromDuration(dur))
}

func msFromDuration(d time.Duration) float64 {
	return float64(d.Nanoseconds()) * 1e-6
}

func newCounter(reg prometheus.Registerer, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
	reg.MustRegister(c)
	return c
}

func newHistogram(reg prometheus.Registerer, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     buckets,
	})
	reg.MustRegister(h)
	return h
}
