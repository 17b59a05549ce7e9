// Package metrics records migration batch outcomes for Prometheus.
//
// A migration run is a short-lived batch job, so nothing is scraped.
// Instead the recorder's registry is pushed to a Pushgateway and/or
// written to a node_exporter textfile-collector file when the batch ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "remigrate"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Recorder holds the metrics of one migration run. All methods are safe to
// call on a nil *Recorder, which records nothing.
type Recorder struct {
	registry *prometheus.Registry

	migrationsTotal   *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec
	rewritesTotal     *prometheus.CounterVec
	batchDuration     prometheus.Gauge
	batchSuccess      prometheus.Gauge
	lastSuccess       prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		migrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Migration files processed, by outcome",
		}, []string{"outcome"}),
		migrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Time spent executing a migration file",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),
		rewritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Statements changed by the idempotency rewriter, by kind and action",
		}, []string{"kind", "action"}),
		batchDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of the last migration batch",
		}),
		batchSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_success",
			Help:      "1 if the last migration batch completed without failure, 0 otherwise",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful migration batch finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveMigration records one migration file outcome.
func (r *Recorder) ObserveMigration(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.migrationsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		r.migrationDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// ObserveRewrite records n statements changed with the given kind and action.
func (r *Recorder) ObserveRewrite(kind, action string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rewritesTotal.WithLabelValues(kind, action).Add(float64(n))
}

// BatchFinished records the overall batch result.
func (r *Recorder) BatchFinished(ok bool, d time.Duration) {
	if r == nil {
		return
	}
	r.batchDuration.Set(d.Seconds())
	if ok {
		r.batchSuccess.Set(1)
		r.lastSuccess.SetToCurrentTime()
		return
	}
	r.batchSuccess.Set(0)
}

// Push sends every metric to the Pushgateway at url under job, replacing
// the job's previous metrics.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}

// WriteTextfile writes every metric in the text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
