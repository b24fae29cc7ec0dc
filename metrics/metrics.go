package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aiact_pipeline_stage_latency_ms",
		Help:    "Latency of each pipeline stage in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	}, []string{"stage"})

	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aiact_pipeline_requests_total",
		Help: "Pipeline requests by outcome",
	}, []string{"outcome"})

	retrievalResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aiact_retrieval_results",
		Help:    "Number of chunks returned by the document store",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	topScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aiact_retrieval_top_score",
		Help:    "Similarity of the best retrieved chunk",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	promptTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aiact_prompt_tokens",
		Help:    "Estimated token count of generation prompts",
		Buckets: prometheus.ExponentialBuckets(256, 2, 8),
	})

	importedChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aiact_ingested_chunks_total",
		Help: "Chunks written by corpus imports",
	}, []string{"source_type"})
)

// Outcome labels for ObserveRequest.
const (
	OutcomeAnswered        = "answered"
	OutcomeNoDocuments     = "no_documents"
	OutcomeEmptyGeneration = "empty_generation"
	OutcomeFailedPrefix    = "failed_"
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(stage string, start time.Time) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// ObserveRequest counts a finished pipeline request.
func ObserveRequest(outcome string) {
	ensureRegistered()
	requests.WithLabelValues(outcome).Inc()
}

// ObserveRetrieval records result size and, when non-empty, the top score.
func ObserveRetrieval(results int, best float64) {
	ensureRegistered()
	retrievalResults.Observe(float64(results))
	if results > 0 {
		topScore.Observe(best)
	}
}

func ObservePromptTokens(n int) {
	ensureRegistered()
	if n > 0 {
		promptTokens.Observe(float64(n))
	}
}

func AddImportedChunks(sourceType string, n int) {
	ensureRegistered()
	importedChunks.WithLabelValues(sourceType).Add(float64(n))
}

// Collectors exposes all collectors for registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		stageLatency, requests, retrievalResults, topScore, promptTokens, importedChunks,
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}
