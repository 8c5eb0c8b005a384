// Package metrics turns runner lifecycle events into Prometheus series.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pollrunner/internal/eventbus"
)

// Collector owns the runner series. It is fed from the event bus, so the
// runner itself has no Prometheus dependency.
type Collector struct {
	// CyclesTotal counts finished cycles by outcome (succeeded, failed, aborted).
	CyclesTotal *prometheus.CounterVec
	// AttemptFailures counts failed attempts, including ones later retried.
	AttemptFailures *prometheus.CounterVec
	// CycleDuration observes wall time from first attempt to outcome.
	CycleDuration *prometheus.HistogramVec
	// LastSuccess is the unix time of the latest successful cycle.
	LastSuccess *prometheus.GaugeVec
}

// New registers the runner series with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pollrunner_cycles_total",
			Help: "Total number of run cycles by outcome",
		}, []string{"tag", "outcome"}),
		AttemptFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pollrunner_attempt_failures_total",
			Help: "Total number of failed task attempts",
		}, []string{"tag"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pollrunner_cycle_duration_seconds",
			Help:    "Run cycle duration in seconds, including backoff waits",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"tag"}),
		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pollrunner_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run cycle",
		}, []string{"tag"}),
	}
}

// Observe applies one event. Unknown topics and payloads are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	ce, ok := e.Data.(eventbus.CycleEvent)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.AttemptFailed:
		c.AttemptFailures.WithLabelValues(ce.Tag).Inc()
	case eventbus.CycleSucceeded:
		c.finish(ce, "succeeded")
		c.LastSuccess.WithLabelValues(ce.Tag).Set(float64(e.Time.Unix()))
	case eventbus.CycleFailed:
		c.finish(ce, "failed")
	case eventbus.CycleAborted:
		c.finish(ce, "aborted")
	}
}

func (c *Collector) finish(ce eventbus.CycleEvent, outcome string) {
	c.CyclesTotal.WithLabelValues(ce.Tag, outcome).Inc()
	c.CycleDuration.WithLabelValues(ce.Tag).Observe(ce.Duration.Seconds())
}

// Run consumes bus until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}
