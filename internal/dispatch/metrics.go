package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiced_requests_total",
		Help: "Bus requests handled, by subject and outcome.",
	}, []string{"subject", "outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiced_rejections_total",
		Help: "Requests rejected before any work was queued, by error code.",
	}, []string{"code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiced_request_duration_seconds",
		Help:    "End-to-end handling time per subject.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"subject"})
)
