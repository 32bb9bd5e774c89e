package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_reservations_created_total",
			Help: "Reservation create attempts by outcome",
		},
		[]string{"outcome"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_reservation_transitions_total",
			Help: "Reservation status transitions",
		},
		[]string{"to", "reason"},
	)

	LedgerIntegrityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_ledger_integrity_errors_total",
			Help: "Ledger operations that left inventory inconsistent",
		},
		[]string{"operation"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_sweep_seconds",
			Help:    "Duration of expiration sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_sweep_candidates_total",
			Help: "Expired hold candidates by sweep outcome",
		},
		[]string{"result"},
	)

	LedgerCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_ledger_corrections_total",
			Help: "Ledger counters rewritten by the reconciler",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
