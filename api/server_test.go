package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fabfab/aiact-explorer/api"
	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/ingestion"
	"github.com/fabfab/aiact-explorer/llm"
)

type stubSearcher struct {
	requests []chat.Request
	resp     chat.Response
	err      error
}

func (s *stubSearcher) Ask(ctx context.Context, req chat.Request) (chat.Response, error) {
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSearchSuccessShape(t *testing.T) {
	searcher := &stubSearcher{resp: chat.Response{
		Answer: "Selon l'Article 3...\n\n" + chat.Disclaimer,
		Documents: []chat.Document{
			{Content: "«fournisseur en aval»", Source: "AI Act - Article 3", SourceType: corpus.SourceRegulation, ArticleNumber: "3", Category: "definition", Score: 0.83, RelatedArticles: []string{"25"}},
			{Content: "Paragraphe", Source: "Lignes directrices", SourceType: corpus.SourceGuidelines, Score: 0.2},
		},
	}}
	srv := api.New(searcher, nil, api.Options{})

	rec := post(t, srv, "/api/search", `{"question": "Qu'est-ce qu'un fournisseur en aval ?", "sourceTypes": ["regulation", "guidelines"], "history": [{"question": "q1", "answer": "a1"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, searcher.requests, 1)
	assert.Equal(t, chat.Request{
		Question:    "Qu'est-ce qu'un fournisseur en aval ?",
		SourceTypes: []string{"regulation", "guidelines"},
		History:     []chat.Turn{{Question: "q1", Answer: "a1"}},
	}, searcher.requests[0])

	body := decode(t, rec)
	assert.True(t, strings.HasSuffix(body["answer"].(string), chat.Disclaimer))
	docs := body["documents"].([]any)
	require.Len(t, docs, 2)
	first := docs[0].(map[string]any)
	assert.Equal(t, "3", first["articleNumber"])
	assert.Equal(t, "regulation", first["sourceType"])
	assert.Equal(t, "AI Act - Article 3", first["source"])
	assert.Equal(t, []any{"25"}, first["relatedArticles"])
	second := docs[1].(map[string]any)
	assert.Contains(t, second, "articleNumber")
	assert.Nil(t, second["articleNumber"])
	assert.Nil(t, second["category"])
	assert.NotContains(t, second, "relatedArticles")
}

func TestSearchNoResultsIsOK(t *testing.T) {
	searcher := &stubSearcher{resp: chat.Response{Answer: chat.NoRelevantDocumentsAnswer, Documents: []chat.Document{}}}
	rec := post(t, api.New(searcher, nil, api.Options{}), "/api/search", `{"question": "q", "sourceTypes": ["regulation"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, chat.NoRelevantDocumentsAnswer, body["answer"])
	assert.Equal(t, []any{}, body["documents"])
}

func TestSearchErrorStatuses(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"invalid", &chat.Error{Kind: chat.KindInvalidQuery, Message: "question is required"}, http.StatusBadRequest, "question is required"},
		{"embedding", &chat.Error{Kind: chat.KindEmbeddingUnavailable, Message: "embed question", Err: errors.New("dial tcp 10.0.0.3:11434: refused")}, http.StatusInternalServerError, "embedding service unavailable"},
		{"retrieval", &chat.Error{Kind: chat.KindRetrievalUnavailable, Err: errors.New("pgx: password authentication failed")}, http.StatusInternalServerError, "document store unavailable"},
		{"generation", &chat.Error{Kind: chat.KindGenerationUnavailable, Err: errors.New("429")}, http.StatusInternalServerError, "generation service unavailable"},
		{"configuration", &chat.Error{Kind: chat.KindConfiguration, Message: "embedder is not configured"}, http.StatusInternalServerError, "internal error"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, api.New(&stubSearcher{err: tc.err}, nil, api.Options{}), "/api/search", `{"question": "q", "sourceTypes": ["regulation"]}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status, api.StatusFor(tc.err))
			body := decode(t, rec)
			assert.Equal(t, tc.message, body["error"])
			assert.NotContains(t, rec.Body.String(), "10.0.0.3")
		})
	}
}

func TestSearchRejectsMalformedRequests(t *testing.T) {
	srv := api.New(&stubSearcher{}, nil, api.Options{})

	rec := post(t, srv, "/api/search", `{"question": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv, "/api/search", `{"question": "q", "unknown": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, getRec.Code)
	assert.Equal(t, http.MethodPost, getRec.Header().Get("Allow"))
}

func TestSearchRejectsOversizedBody(t *testing.T) {
	searcher := &stubSearcher{}
	srv := api.New(searcher, nil, api.Options{})

	body := `{"question": "` + strings.Repeat("a", 2<<20) + `", "sourceTypes": ["regulation"]}`
	rec := post(t, srv, "/api/search", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, searcher.requests)
}

type stubEmbedder struct{ calls int }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return "Selon l'Article 3, point 68...", nil
}

func TestSearchEndToEndWithPipeline(t *testing.T) {
	store, err := corpus.NewSQLiteStore(":memory:", 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.ReplaceDocument(context.Background(), corpus.Document{Path: "ai-act.yaml", Title: "AI Act", SourceType: corpus.SourceRegulation, SHA: "x"}, []corpus.Chunk{{
		ID:            "c1",
		Content:       "«fournisseur en aval», un fournisseur d'un système d'IA...",
		Embedding:     []float32{0.9, 0.1, 0},
		SourceType:    corpus.SourceRegulation,
		SourceName:    "AI Act - Article 3, point 68",
		ArticleNumber: "3",
		Category:      corpus.CategoryDefinition,
		Metadata:      corpus.Metadata{corpus.MetaDefinedTerm: "fournisseur en aval"},
	}})
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	svc := chat.NewService(store, nil, embedder, stubLLM{}, nil, chat.Config{})
	srv := api.New(svc, nil, api.Options{})

	rec := post(t, srv, "/api/search", `{"question": "Qu'est-ce qu'un fournisseur en aval ?", "sourceTypes": ["regulation"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Contains(t, body["answer"], "Article 3")
	assert.True(t, strings.HasSuffix(body["answer"].(string), chat.Disclaimer))
	require.Len(t, body["documents"], 1)

	rec = post(t, srv, "/api/search", `{"question": "  ", "sourceTypes": ["regulation"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "question is required", decode(t, rec)["error"])

	rec = post(t, srv, "/api/search", `{"question": "q", "sourceTypes": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, embedder.calls)
}

func TestCORS(t *testing.T) {
	srv := api.New(&stubSearcher{}, nil, api.Options{AllowedOrigins: []string{"https://aiact.example.eu/"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "https://aiact.example.eu")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://aiact.example.eu", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv := api.New(&stubSearcher{}, nil, api.Options{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/search")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubAdmin struct {
	dirs    []string
	cleared bool
}

func (a *stubAdmin) IngestDirectory(ctx context.Context, dir string) (ingestion.Summary, error) {
	a.dirs = append(a.dirs, dir)
	return ingestion.Summary{Files: 2, Imported: 1, Unchanged: 1, Chunks: 12}, nil
}

func (a *stubAdmin) Clear(ctx context.Context) error {
	a.cleared = true
	return nil
}

func TestAdminRoutes(t *testing.T) {
	plain := api.New(&stubSearcher{}, nil, api.Options{})
	assert.Equal(t, http.StatusNotFound, post(t, plain, "/v1/clear", `{"confirm": true}`).Code)

	admin := &stubAdmin{}
	srv := api.New(&stubSearcher{}, nil, api.Options{Admin: admin, DataDir: "./data"})

	rec := post(t, srv, "/v1/ingest", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"./data"}, admin.dirs)
	assert.EqualValues(t, 12, decode(t, rec)["chunks"])

	rec = post(t, srv, "/v1/clear", `{"confirm": false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, admin.cleared)

	rec = post(t, srv, "/v1/clear", `{"confirm": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, admin.cleared)
}
