// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the engine's collectors on a private registry.
type Pipeline struct {
	registry *prometheus.Registry

	// validation
	RecordsValidated *prometheus.CounterVec // by entity
	RecordsRejected  *prometheus.CounterVec // by check kind

	// deduplication
	DuplicatesDropped prometheus.Counter
	DuplicationRate   prometheus.Gauge

	// rate sanity
	RateAnomalies prometheus.Counter

	// aggregation
	AggregatesPublished prometheus.Counter
	PublishBlocked      prometheus.Counter

	// reconciliation
	Variance         *prometheus.GaugeVec   // by pair
	Verdicts         *prometheus.CounterVec // by verdict
	ReferenceErrors  prometheus.Counter
	ReferenceLatency prometheus.Histogram

	// quarantine
	QuarantinedScopes prometheus.Gauge

	// runs
	RunsTotal   prometheus.Counter
	RunsFailed  prometheus.Counter
	RunDuration prometheus.Histogram
}

// Config names the metric namespace.
type Config struct {
	Namespace string
}

// DefaultConfig returns the default namespace.
func DefaultConfig() Config {
	return Config{Namespace: "volrecon"}
}

// New creates the collectors on a fresh registry.
func New(cfg Config) *Pipeline {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &Pipeline{
		registry: reg,

		RecordsValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "records_validated_total",
			Help: "Records passing validation, by entity kind.",
		}, []string{"entity"}),
		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "records_rejected_total",
			Help: "Records rejected by validation, by check kind.",
		}, []string{"kind"}),

		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "duplicates_dropped_total",
			Help: "Duplicate transaction keys dropped below threshold.",
		}),
		DuplicationRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "duplication_rate",
			Help: "Duplication rate of the most recently finalized window.",
		}),

		RateAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_anomalies_total",
			Help: "Exchange-rate observations deviating beyond the threshold.",
		}),

		AggregatesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "aggregates_published_total",
			Help: "Volume aggregates published to the canonical store.",
		}),
		PublishBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "publish_blocked_total",
			Help: "Publish attempts rejected by quarantine.",
		}),

		Variance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "reconciliation_variance",
			Help: "Relative variance against the external reference, by pair.",
		}, []string{"pair"}),
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "reconciliation_verdicts_total",
			Help: "Reconciliation verdicts, by verdict.",
		}, []string{"verdict"}),
		ReferenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reference_errors_total",
			Help: "Failed external reference fetches.",
		}),
		ReferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "reference_fetch_seconds",
			Help:    "External reference fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),

		QuarantinedScopes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "quarantined_scopes",
			Help: "Scopes currently quarantined.",
		}),

		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_total",
			Help: "Reconciliation runs started.",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "runs_failed_total",
			Help: "Reconciliation runs that ended in error.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "run_duration_seconds",
			Help:    "End-to-end duration of one window run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900},
		}),
	}
}

// Handler returns the scrape handler for the private registry.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics server on addr. Empty addr disables it.
func (p *Pipeline) Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
