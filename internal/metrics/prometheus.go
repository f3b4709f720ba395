package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resumemate_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"category"},
	)

	TurnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_turn_total",
			Help: "Total turns by final status",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resumemate_confidence_score",
			Help:    "Final response confidence",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resumemate_retrieval_results_count",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	RetrievalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_retrieval_failures_total",
			Help: "Upstream failures during retrieval",
		},
		[]string{"stage"},
	)

	Revisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_revisions_total",
			Help: "Revision cycles by outcome status",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	MalformedOutputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_llm_malformed_output_total",
			Help: "Collaborator responses that failed strict decoding",
		},
		[]string{"stage"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_cache_evictions_total",
			Help: "Entries removed by expiry or capacity pressure",
		},
		[]string{"cache_type", "reason"},
	)

	GateRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resumemate_gate_rejections_total",
			Help: "Turns rejected because the concurrency gate was full",
		},
	)

	InFlightTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resumemate_inflight_turns",
			Help: "Turns currently holding a gate slot",
		},
	)

	TurnTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resumemate_turn_timeouts_total",
			Help: "Turns that exceeded the turn deadline",
		},
	)

	LLMRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resumemate_llm_retries_total",
			Help: "Retried LLM and embedding calls",
		},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resumemate_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ContactSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resumemate_contact_submissions_total",
			Help: "Contact submissions by validation outcome",
		},
		[]string{"valid"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TurnDuration)
		prometheus.MustRegister(TurnTotal)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(RetrievalResultsCount)
		prometheus.MustRegister(RetrievalFailures)
		prometheus.MustRegister(Revisions)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(MalformedOutputs)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheEvictions)
		prometheus.MustRegister(GateRejections)
		prometheus.MustRegister(InFlightTurns)
		prometheus.MustRegister(TurnTimeouts)
		prometheus.MustRegister(ContactSubmissions)
		prometheus.MustRegister(BreakerState)
		prometheus.MustRegister(LLMRetries)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
