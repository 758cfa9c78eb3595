package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "po_orders_created_total",
			Help: "Total payment orders created",
		},
	)

	Finalizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "po_finalizations_total",
			Help: "Finalization signals processed, by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	SignatureMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "po_signature_mismatches_total",
			Help: "Gateway callbacks rejected on reverse-hash verification",
		},
	)

	ConflictingSignals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "po_conflicting_signals_total",
			Help: "Signals for terminal orders stored for manual reconciliation",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "po_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "po_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox row",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "po_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
