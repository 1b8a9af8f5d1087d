package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policyqa_query_duration_seconds",
			Help:    "Question processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_query_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policyqa_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	RetrievalDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_retrieval_degraded_total",
			Help: "Retrieval sources treated as empty after failure",
		},
		[]string{"source"},
	)

	GenerationAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyqa_generation_attempts",
			Help:    "Generation attempts per answered question",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	AnswerStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_answer_status_total",
			Help: "Answers by status",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyqa_confidence_score",
			Help:    "Answer confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	GraphPathsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyqa_graph_paths_count",
			Help:    "Number of graph paths per question",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyqa_vector_results_count",
			Help:    "Number of vector results per question",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policyqa_context_tokens",
			Help:    "Estimated tokens in the assembled context",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8),
		},
	)

	ReviewItemsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_review_items_created_total",
			Help: "Review items routed to human review",
		},
		[]string{"priority"},
	)

	ReviewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_review_decisions_total",
			Help: "Reviewer decisions received",
		},
		[]string{"decision"},
	)

	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_persistence_failures_total",
			Help: "Background writes abandoned after retries",
		},
		[]string{"operation"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyqa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "policyqa_circuit_breaker_open",
			Help: "1 while the named circuit breaker is not closed",
		},
		[]string{"name"},
	)

	AliasTableSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "policyqa_alias_table_entities",
			Help: "Canonical entities loaded into the alias table",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(RetrievalDegraded)
		prometheus.MustRegister(GenerationAttempts)
		prometheus.MustRegister(AnswerStatus)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(GraphPathsCount)
		prometheus.MustRegister(VectorResultsCount)
		prometheus.MustRegister(ContextTokens)
		prometheus.MustRegister(ReviewItemsCreated)
		prometheus.MustRegister(ReviewDecisions)
		prometheus.MustRegister(PersistenceFailures)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(BreakerState)
		prometheus.MustRegister(AliasTableSize)
	})
}

// ObserveBreaker matches the circuit breaker state-change callback.
func ObserveBreaker(name, _, to string) {
	open := 0.0
	if to != "closed" {
		open = 1
	}
	BreakerState.WithLabelValues(name).Set(open)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
