package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_scheduler_ticks_total",
			Help: "Scheduler ticks by result",
		},
		[]string{"result"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_claims_total",
			Help: "Claim attempts by result (claimed, conflict, error)",
		},
		[]string{"result"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_dispatches_total",
			Help: "Gateway initiations by gateway mode and result",
		},
		[]string{"mode", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_dispatch_duration_seconds",
			Help:    "Time spent initiating a call through the gateway",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"mode"},
	)

	DispatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_dispatches_in_flight",
			Help: "Claimed reminders whose gateway initiation has not finished",
		},
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_reports_total",
			Help: "Delivery reports by outcome",
		},
		[]string{"outcome"},
	)

	LastSuccessfulTick = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_scheduler_last_success_timestamp_seconds",
			Help: "Unix time of the last scheduler tick that completed without error",
		},
	)
)
