package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	noncesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensverify_nonces_issued_total",
		Help: "Total challenge nonces issued.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensverify_verifications_total",
		Help: "Total verification attempts by terminal state and reason.",
	}, []string{"state", "reason"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ensverify_upstream_duration_seconds",
		Help:    "Duration of calls to external APIs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream", "result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
