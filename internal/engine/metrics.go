package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orianna_sessions_started_total",
		Help: "Sessions created, by kind.",
	}, []string{"kind"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orianna_sessions_finished_total",
		Help: "Sessions reaching a terminal state, by status.",
	}, []string{"status"})

	answersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orianna_answers_submitted_total",
		Help: "Accepted answer submissions.",
	})

	questionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orianna_questions_skipped_total",
		Help: "Skipped question slots, by reason.",
	}, []string{"reason"})

	providerCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orianna_provider_call_seconds",
		Help:    "Latency of question provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	evaluationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orianna_evaluations_pending",
		Help: "Answers waiting for a provider evaluation.",
	})

	workerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orianna_worker_queue_depth",
		Help: "Jobs waiting in the background worker queue.",
	})

	workerJobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orianna_worker_jobs_dropped_total",
		Help: "Background jobs dropped because the queue was full.",
	})
)
