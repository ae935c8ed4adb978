package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "rides_requested_total", Help: "Total ride requests enqueued"})
	RidesClaimed   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "rides_claimed_total", Help: "Total rides claimed off a queue"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "rides_cancelled_total", Help: "Total ride requests cancelled"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "rides_completed_total", Help: "Total active rides completed"})

	ClaimsEmpty    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "claims_empty_total", Help: "Claim attempts that found an empty queue"})
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "claim_conflicts_total", Help: "Claim transactions that exhausted their retries"})

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "dede_rides", Name: "queue_depth", Help: "Current ride queue depth per event"},
		[]string{"event"},
	)

	ReconcilerRepairs = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "reconciler_repairs_total", Help: "Inconsistencies repaired by the reconciliation sweep"})
	ReconcilerSweeps  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "reconciler_sweeps_total", Help: "Completed reconciliation sweeps"})

	OffersMade     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "offers_made_total", Help: "Total driver offers made"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dede_rides", Name: "offers_accepted_total", Help: "Total driver offers accepted"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dede_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dede_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
