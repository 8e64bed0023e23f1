package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger write metrics
	EntriesAppended *prometheus.CounterVec
	DuplicateWrites prometheus.Counter
	AppendConflicts prometheus.Counter
	AppendDuration  prometheus.Histogram
	AppendErrors    *prometheus.CounterVec
	EntryAmount     *prometheus.HistogramVec

	// Balance metrics
	ReplayDuration    *prometheus.HistogramVec
	ReplayEntries     *prometheus.CounterVec
	SnapshotSequence  prometheus.Gauge
	SettlementPlans   prometheus.Histogram
	UnbalancedLedgers prometheus.Counter

	// Directory metrics
	UsersCreated  prometheus.Counter
	GroupsCreated prometheus.Counter

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
	RedisErrors     *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger write metrics
		EntriesAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_entries_appended_total",
				Help: "Total number of ledger entries appended by kind",
			},
			[]string{"kind"},
		),
		DuplicateWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_duplicate_writes_total",
			Help: "Total number of writes answered from an existing idempotency key",
		}),
		AppendConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_append_conflicts_total",
			Help: "Total number of appends that failed after exhausting retries on conflicts",
		}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitledger_append_duration_seconds",
			Help:    "Duration of ledger append operations including retries",
			Buckets: prometheus.DefBuckets,
		}),
		AppendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_append_errors_total",
				Help: "Total number of rejected writes by error type",
			},
			[]string{"error_type"},
		),
		EntryAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splitledger_entry_amount_minor_units",
				Help:    "Amounts of appended entries in minor units",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"kind"},
		),

		// Balance metrics
		ReplayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splitledger_replay_duration_seconds",
				Help:    "Duration of ledger replays by mode",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		ReplayEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_replay_entries_total",
				Help: "Total number of entries folded by mode",
			},
			[]string{"mode"},
		),
		SnapshotSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "splitledger_snapshot_sequence",
			Help: "Last ledger sequence folded into the balance snapshot",
		}),
		SettlementPlans: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitledger_settlement_plan_payments",
			Help:    "Number of payments in computed settlement plans",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		UnbalancedLedgers: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_unbalanced_ledger_total",
			Help: "Total number of ledger invariant violations detected",
		}),

		// Directory metrics
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_users_created_total",
			Help: "Total number of users created",
		}),
		GroupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "splitledger_groups_created_total",
			Help: "Total number of groups created",
		}),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splitledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Outbox metrics
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_events_published_total",
				Help: "Total outbox events published by event type",
			},
			[]string{"event_type"},
		),
		PublishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_event_publish_errors_total",
				Help: "Total outbox publish failures by event type",
			},
			[]string{"event_type"},
		),

		// Redis metrics
		RedisOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_redis_operations_total",
				Help: "Total Redis operations",
			},
			[]string{"operation"},
		),
		RedisErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_redis_errors_total",
				Help: "Total Redis errors",
			},
			[]string{"operation"},
		),

		// Authentication metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitledger_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"endpoint"},
		),
	}
}
