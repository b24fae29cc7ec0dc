package chat

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/embeddings"
	"github.com/fabfab/aiact-explorer/llm"
	"github.com/fabfab/aiact-explorer/logging"
	"github.com/fabfab/aiact-explorer/metrics"
)

// Pipeline stages, used as log fields and metric labels.
const (
	StageValidating = "validating"
	StageEmbedding  = "embedding"
	StageRetrieving = "retrieving"
	StageAssembling = "assembling"
	StagePrompting  = "prompting"
	StageGenerating = "generating"
	StageEnriching  = "enriching"
)

// Service runs the question answering pipeline. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	store      corpus.Store
	graph      GraphStore
	embedder   embeddings.Embedder
	llm        llm.Client
	logger     *zap.SugaredLogger
	tokens     TokenCounter
	threshold  float64
	maxResults int
}

// NewService wires the pipeline from constructed clients. graph, logger and
// cfg.Tokens may be nil.
func NewService(store corpus.Store, graph GraphStore, embedder embeddings.Embedder, llmClient llm.Client, logger *zap.SugaredLogger, cfg Config) *Service {
	threshold := corpus.DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = corpus.DefaultMaxResults
	}

	return &Service{
		store:      store,
		graph:      graph,
		embedder:   embedder,
		llm:        llmClient,
		logger:     logging.OrNop(logger),
		tokens:     cfg.Tokens,
		threshold:  threshold,
		maxResults: maxResults,
	}
}

// Ask answers req. On success the answer always ends with Disclaimer. A
// retrieval with no results is not an error: the answer is
// NoRelevantDocumentsAnswer and Documents is empty.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	resp, outcome, err := s.ask(ctx, req)
	if err != nil {
		outcome = metrics.OutcomeFailedPrefix + string(KindOf(err))
	}
	metrics.ObserveRequest(outcome)
	return resp, err
}

func (s *Service) ask(ctx context.Context, req Request) (Response, string, error) {
	question := strings.TrimSpace(req.Question)

	results, err := s.Search(ctx, question, req.SourceTypes)
	if err != nil {
		return Response{}, "", err
	}
	if len(results) == 0 {
		s.logger.Infow("no relevant documents", "sourceTypes", req.SourceTypes)
		return Response{Answer: NoRelevantDocumentsAnswer, Documents: []Document{}}, metrics.OutcomeNoDocuments, nil
	}
	if s.llm == nil {
		return Response{}, "", wrap(KindConfiguration, "llm client is not configured", nil)
	}

	start := time.Now()
	assembled := AssembleContext(results)
	metrics.ObserveStage(StageAssembling, start)
	s.logger.Debugw("pipeline stage", "stage", StageAssembling,
		"documents", assembled.Documents,
		"hasRegulation", assembled.HasRegulation,
		"hasGuidelines", assembled.HasGuidelines)

	start = time.Now()
	prompt := BuildPrompt(req.History, assembled, question)
	metrics.ObserveStage(StagePrompting, start)
	if s.tokens != nil {
		tokens := prompt.CountTokens(s.tokens)
		metrics.ObservePromptTokens(tokens)
		s.logger.Debugw("pipeline stage", "stage", StagePrompting, "mix", prompt.Mix.String(), "promptTokens", tokens)
	} else {
		s.logger.Debugw("pipeline stage", "stage", StagePrompting, "mix", prompt.Mix.String())
	}

	start = time.Now()
	answer, err := s.llm.Generate(ctx, prompt.All())
	metrics.ObserveStage(StageGenerating, start)
	if errors.Is(err, llm.ErrEmptyGeneration) {
		s.logger.Warnw("generation returned no usable text", "error", err)
		return Response{Answer: GenerationFailedAnswer, Documents: []Document{}}, metrics.OutcomeEmptyGeneration, nil
	}
	if err != nil {
		s.logger.Errorw("generation failed", "error", err)
		return Response{}, "", wrap(KindGenerationUnavailable, "generate answer", err)
	}

	documents := toDocuments(results)
	s.attachRelatedArticles(ctx, documents)

	return Response{Answer: EnsureDisclaimer(answer), Documents: documents}, metrics.OutcomeAnswered, nil
}

// Search validates the question and source types, embeds the question once
// and queries the document store. Validation failures happen before any
// network call.
func (s *Service) Search(ctx context.Context, question string, sourceTypes []string) ([]corpus.RetrievalResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, invalidQuery("question is required")
	}
	types, err := parseSourceTypes(sourceTypes)
	if err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, wrap(KindConfiguration, "embedder is not configured", nil)
	}
	if s.store == nil {
		return nil, wrap(KindConfiguration, "document store is not configured", nil)
	}

	start := time.Now()
	vector, err := embeddings.EmbedOne(ctx, s.embedder, question)
	metrics.ObserveStage(StageEmbedding, start)
	if err != nil {
		s.logger.Errorw("embedding failed", "error", err)
		return nil, wrap(KindEmbeddingUnavailable, "embed question", err)
	}

	start = time.Now()
	results, err := s.store.Search(ctx, corpus.SearchQuery{
		Vector:      vector,
		SourceTypes: types,
		Threshold:   s.threshold,
		MaxResults:  s.maxResults,
	})
	metrics.ObserveStage(StageRetrieving, start)
	if errors.Is(err, corpus.ErrInvalidQuery) {
		// Source types were already validated, so the vector itself was rejected.
		s.logger.Errorw("document store rejected query vector", "error", err, "dimension", len(vector))
		return nil, wrap(KindConfiguration, "query vector rejected by document store", err)
	}
	if err != nil {
		s.logger.Errorw("retrieval failed", "error", err)
		return nil, wrap(KindRetrievalUnavailable, "search document store", err)
	}

	best := 0.0
	if len(results) > 0 {
		best = results[0].Score
	}
	metrics.ObserveRetrieval(len(results), best)
	s.logger.Debugw("pipeline stage", "stage", StageRetrieving, "results", len(results), "topScore", best)

	return results, nil
}

func parseSourceTypes(raw []string) ([]corpus.SourceType, error) {
	if len(raw) == 0 {
		return nil, invalidQuery("at least one source type is required")
	}
	types := make([]corpus.SourceType, 0, len(raw))
	seen := make(map[corpus.SourceType]struct{}, len(raw))
	for _, value := range raw {
		st, err := corpus.ParseSourceType(value)
		if err != nil {
			return nil, invalidQuery("unknown source type %q", value)
		}
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		types = append(types, st)
	}
	return types, nil
}

func toDocuments(results []corpus.RetrievalResult) []Document {
	documents := make([]Document, 0, len(results))
	for i := range results {
		result := &results[i]
		documents = append(documents, Document{
			Content:       result.Content,
			Source:        result.SourceName,
			SourceType:    result.SourceType,
			ArticleNumber: result.ArticleNumber,
			Category:      result.Category,
			Score:         clampScore(result.Score),
		})
	}
	return documents
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

// attachRelatedArticles is best effort: graph failures are logged and the
// documents are returned without related articles.
func (s *Service) attachRelatedArticles(ctx context.Context, documents []Document) {
	if s.graph == nil {
		return
	}

	numbers := make([]string, 0, len(documents))
	seen := make(map[string]struct{}, len(documents))
	for i := range documents {
		doc := &documents[i]
		if doc.SourceType != corpus.SourceRegulation || doc.ArticleNumber == "" {
			continue
		}
		if _, ok := seen[doc.ArticleNumber]; ok {
			continue
		}
		seen[doc.ArticleNumber] = struct{}{}
		numbers = append(numbers, doc.ArticleNumber)
	}
	if len(numbers) == 0 {
		return
	}

	start := time.Now()
	related, err := s.graph.RelatedArticles(ctx, numbers)
	metrics.ObserveStage(StageEnriching, start)
	if err != nil {
		s.logger.Warnw("graph related articles error", "error", err)
		return
	}
	for i := range documents {
		doc := &documents[i]
		if doc.SourceType != corpus.SourceRegulation {
			continue
		}
		if values, ok := related[doc.ArticleNumber]; ok {
			doc.RelatedArticles = append([]string(nil), values...)
		}
	}
}
