package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsseq_messages_total",
			Help: "Send attempts by status and transport mode",
		},
		[]string{"status", "mode"}, // sent|failed , live|mock
	)

	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsseq_enrollments_total",
			Help: "Processed enrollments by outcome",
		},
		[]string{"outcome"}, // advanced|completed|deferred|paused|data_drift|persist_failed|skipped
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsseq_runs_total",
			Help: "Scheduler passes by result",
		},
		[]string{"result"}, // ok|error
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smsseq_run_duration_seconds",
			Help:    "Wall time of one scheduler pass",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		EnrollmentsTotal,
		RunsTotal,
		RunDuration,
	)
}
