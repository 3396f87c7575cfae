// Package metrics records per-run counters for batch gatherers and pushes
// them to a Prometheus Pushgateway when one is configured.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run holds the metrics of one gatherer run. A nil *Run is valid and
// records nothing.
type Run struct {
	registry *prometheus.Registry

	DaysProcessed   prometheus.Counter
	DaysFailed      prometheus.Counter
	RecordsUpserted prometheus.Counter
	DayDuration     prometheus.Histogram
	LastCompletion  prometheus.Gauge
}

// NewRun creates the metrics for the named gatherer in a private registry.
func NewRun(gatherer string) *Run {
	labels := prometheus.Labels{"gatherer": gatherer}
	m := &Run{
		registry: prometheus.NewRegistry(),
		DaysProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "datahub",
			Name:        "days_processed_total",
			Help:        "Trading days processed, successful or not.",
			ConstLabels: labels,
		}),
		DaysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "datahub",
			Name:        "days_failed_total",
			Help:        "Trading days that produced no records because of an error.",
			ConstLabels: labels,
		}),
		RecordsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "datahub",
			Name:        "records_upserted_total",
			Help:        "Cleaned records written to the store.",
			ConstLabels: labels,
		}),
		DayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "datahub",
			Name:        "day_duration_seconds",
			Help:        "Wall time to clean and store one trading day.",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		LastCompletion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datahub",
			Name:        "last_completion_timestamp_seconds",
			Help:        "Unix time the last run finished.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.DaysProcessed, m.DaysFailed, m.RecordsUpserted, m.DayDuration, m.LastCompletion)
	return m
}

// DayDone records the outcome of one trading day.
func (m *Run) DayDone(records int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.DaysProcessed.Inc()
	if err != nil {
		m.DaysFailed.Inc()
	}
	m.RecordsUpserted.Add(float64(records))
	m.DayDuration.Observe(elapsed.Seconds())
}

// Finish stamps the completion time.
func (m *Run) Finish(t time.Time) {
	if m == nil {
		return
	}
	m.LastCompletion.Set(float64(t.Unix()))
}

// Registry exposes the underlying registry.
func (m *Run) Registry() *prometheus.Registry { return m.registry }

// Push sends every metric of the run to the Pushgateway at url under job.
func (m *Run) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.registry).PushContext(ctx)
}
