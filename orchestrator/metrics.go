package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	engineTasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_engine_tasks_submitted_total",
		Help: "Tasks pushed onto the redis tasks queue",
	}, []string{"job"})

	engineTasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_engine_tasks_finished_total",
		Help: "Results read back from the redis results queue",
	}, []string{"job"})

	engineTasksRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_engine_tasks_requeued_total",
		Help: "Tasks pushed again after exceeding the processing timeout",
	}, []string{"job"})

	engineBackpressure = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_engine_backpressure_total",
		Help: "Camshaft ticks skipped because results were still waiting to be consumed",
	}, []string{"job"})

	engineQueueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lgrpo_engine_queue_wait_seconds",
		Help:    "Time between a task being queued and a worker picking it up",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	engineProcessing = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lgrpo_engine_processing_seconds",
		Help:    "Time between a worker picking a task up and its result being read",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	engineInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lgrpo_engine_in_flight",
		Help: "Tasks tracked by the engine that have no result yet",
	}, []string{"job"})

	dispatcherDroppedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgrpo_dispatcher_dropped_results_total",
		Help: "Results that arrived after their caller gave up",
	}, []string{"job"})

	syntaxCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_syntax_cache_hits_total",
		Help: "Well-formedness checks answered from the memo",
	})

	syntaxFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lgrpo_syntax_fallbacks_total",
		Help: "Well-formedness checks answered by the in-process reference validator",
	})

	policyUpdateSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lgrpo_policy_update_seconds",
		Help:    "Wall time of one advertised policy update, handshake included",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
