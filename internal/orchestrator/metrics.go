package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	jobsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoicegen_jobs_created_total",
		Help: "Total jobs created",
	})

	jobTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicegen_job_transitions_total",
		Help: "Job status transitions by target status",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicegen_pipeline_stage_duration_seconds",
		Help:    "Pipeline stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	}, []string{"stage"})

	stageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicegen_pipeline_stage_failures_total",
		Help: "Pipeline stage failures by stage and error kind",
	}, []string{"stage", "kind"})

	paymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicegen_payment_events_total",
		Help: "Payment events received by normalized status",
	}, []string{"status"})
)
