package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_validations_total",
		Help: "Total number of order validations by error classification",
	}, []string{"classification"})

	CheckoutSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_submissions_total",
		Help: "Total number of order submissions by outcome",
	}, []string{"outcome"})

	CheckoutBusyRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_busy_rejections_total",
		Help: "Total number of validate/submit calls rejected because the pipeline was busy",
	})

	CheckoutSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_submit_latency_seconds",
		Help:    "Latency of the full submission pipeline",
		Buckets: prometheus.DefBuckets,
	})

	RecoveryActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_recovery_actions_total",
		Help: "Total number of recovery actions dispatched",
	}, []string{"kind", "result"})

	RecurrenceWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_recurrence_writes_total",
		Help: "Total number of recurring-order writes",
	}, []string{"operation", "result"})

	GuestUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_guest_upgrades_total",
		Help: "Total number of guest checkouts upgraded to an authenticated session",
	}, []string{"result"})

	CommerceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commerce_request_duration_seconds",
		Help:    "Latency of outbound commerce API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
