package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequestCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(requests.WithLabelValues(OutcomeNoDocuments))
	ObserveRequest(OutcomeNoDocuments)
	ObserveRequest(OutcomeNoDocuments)
	assert.Equal(t, before+2, testutil.ToFloat64(requests.WithLabelValues(OutcomeNoDocuments)))
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	ObserveStage("embedding", time.Now())
	ObserveRetrieval(3, 0.82)
	ObservePromptTokens(900)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "aiact_pipeline_stage_latency_ms")
	assert.Contains(t, body, `stage="embedding"`)
	assert.Contains(t, body, "aiact_retrieval_top_score")
	assert.Contains(t, body, "aiact_prompt_tokens")
}
