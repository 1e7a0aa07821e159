package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the engine.
type Metrics struct {
	EventsTotal     prometheus.Counter
	EventsInvalid   prometheus.Counter
	EventsRejected  prometheus.Counter
	AlertsEmitted   prometheus.Counter
	PatternsMined   prometheus.Counter
	NotifyPublished prometheus.Counter
	NotifyDropped   prometheus.Counter
	StorageErrors   prometheus.Counter
	ActiveSessions  prometheus.Gauge
	ProfilesTracked prometheus.Gauge
	IngestDuration  prometheus.Histogram
	MiningDuration  prometheus.Histogram
}

// New creates the engine metrics registered on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_events_total",
			Help: "Total number of activity events accepted",
		}),
		EventsInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_events_invalid_total",
			Help: "Total number of events rejected by validation",
		}),
		EventsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_events_failed_total",
			Help: "Total number of events that failed processing after acceptance",
		}),
		AlertsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_alerts_emitted_total",
			Help: "Total number of behavioral alerts emitted",
		}),
		PatternsMined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_patterns_mined_total",
			Help: "Total number of behavior patterns produced by mining runs",
		}),
		NotifyPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_notify_published_total",
			Help: "Total number of alerts handed to the notifier boundary",
		}),
		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_notify_dropped_total",
			Help: "Total number of alerts dropped from the notifier queue",
		}),
		StorageErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_storage_errors_total",
			Help: "Total number of persistence failures",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_active_sessions",
			Help: "Number of sessions currently in the active state",
		}),
		ProfilesTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kestrel_profiles_tracked",
			Help: "Number of actor profiles currently held",
		}),
		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_ingest_duration_seconds",
			Help:    "Time spent processing a single submitted event",
			Buckets: prometheus.DefBuckets,
		}),
		MiningDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_mining_duration_seconds",
			Help:    "Time spent in a batch pattern mining run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
