package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/ingestion"
	"github.com/fabfab/aiact-explorer/logging"
	"github.com/fabfab/aiact-explorer/metrics"
)

// maxBodyBytes caps request bodies; a question with five turns of history
// stays well below it.
const maxBodyBytes = 1 << 20

// Searcher answers one question. *chat.Service implements it.
type Searcher interface {
	Ask(ctx context.Context, req chat.Request) (chat.Response, error)
}

// Admin runs corpus maintenance. *ingestion.Service implements it.
type Admin interface {
	IngestDirectory(ctx context.Context, dir string) (ingestion.Summary, error)
	Clear(ctx context.Context) error
}

type Options struct {
	AllowedOrigins []string
	// Admin enables /v1/ingest and /v1/clear when set.
	Admin   Admin
	DataDir string
}

// Server exposes the question answering pipeline over HTTP.
type Server struct {
	searcher Searcher
	admin    Admin
	dataDir  string
	logger   *zap.SugaredLogger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	Dir string `json:"dir"`
}

type ingestResponse struct {
	Message   string `json:"message"`
	Files     int    `json:"files"`
	Imported  int    `json:"imported"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Chunks    int    `json:"chunks"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type searchRequest struct {
	Question    string        `json:"question"`
	SourceTypes []string      `json:"sourceTypes"`
	History     []historyTurn `json:"history"`
}

type historyTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type searchResponse struct {
	Answer    string           `json:"answer"`
	Documents []searchDocument `json:"documents"`
}

type searchDocument struct {
	Content         string   `json:"content"`
	Source          string   `json:"source"`
	SourceType      string   `json:"sourceType"`
	ArticleNumber   *string  `json:"articleNumber"`
	Category        *string  `json:"category"`
	Score           float64  `json:"score"`
	RelatedArticles []string `json:"relatedArticles,omitempty"`
}

// New constructs a Server around searcher.
func New(searcher Searcher, logger *zap.SugaredLogger, opts Options) *Server {
	s := &Server{
		searcher: searcher,
		admin:    opts.Admin,
		dataDir:  opts.DataDir,
		logger:   logging.OrNop(logger),
	}
	s.handler = withCORS(s.routes(), opts.AllowedOrigins)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	if s.admin != nil {
		mux.HandleFunc("/v1/ingest", s.handleIngest)
		mux.HandleFunc("/v1/clear", s.handleClear)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, decodeStatus(err), fmt.Errorf("decode request: %w", err))
		return
	}

	history := make([]chat.Turn, len(req.History))
	for i, turn := range req.History {
		history[i] = chat.Turn{Question: turn.Question, Answer: turn.Answer}
	}

	resp, err := s.searcher.Ask(r.Context(), chat.Request{
		Question:    req.Question,
		SourceTypes: req.SourceTypes,
		History:     history,
	})
	if err != nil {
		s.logger.Errorw("search failed", "kind", chat.KindOf(err), "error", err)
		s.writeJSON(w, StatusFor(err), errorResponse{Error: PublicMessage(err)})
		return
	}

	s.writeJSON(w, http.StatusOK, transformSearchResponse(resp))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, decodeStatus(err), fmt.Errorf("decode request: %w", err))
		return
	}

	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.dataDir
	}

	s.logger.Infow("ingesting corpus", "dir", dir)
	summary, err := s.admin.IngestDirectory(r.Context(), dir)
	if err != nil && summary.Files == 0 {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	message := "ingestion complete"
	if err != nil {
		s.logger.Warnw("ingestion finished with errors", "error", err)
		message = "ingestion finished with errors"
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{
		Message:   message,
		Files:     summary.Files,
		Imported:  summary.Imported,
		Unchanged: summary.Unchanged,
		Failed:    summary.Failed,
		Chunks:    summary.Chunks,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, decodeStatus(err), fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	if err := s.admin.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear failed: %w", err))
		return
	}

	s.logger.Info("corpus data removed")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "corpus data cleared"})
}

// StatusFor maps a pipeline error to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, chat.ErrInvalidQuery) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage is the error text shown to callers. Validation messages are
// passed through; infrastructure failures get a generic message so no
// internal detail leaks.
func PublicMessage(err error) string {
	var pipelineErr *chat.Error
	if !errors.As(err, &pipelineErr) {
		return "internal error"
	}
	switch pipelineErr.Kind {
	case chat.KindInvalidQuery:
		return pipelineErr.Message
	case chat.KindEmbeddingUnavailable:
		return "embedding service unavailable"
	case chat.KindRetrievalUnavailable:
		return "document store unavailable"
	case chat.KindGenerationUnavailable:
		return "generation service unavailable"
	default:
		return "internal error"
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warnw("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warnw("api error", "status", status, "error", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func transformSearchResponse(resp chat.Response) searchResponse {
	converted := searchResponse{Answer: resp.Answer, Documents: make([]searchDocument, len(resp.Documents))}
	for i, doc := range resp.Documents {
		converted.Documents[i] = searchDocument{
			Content:         doc.Content,
			Source:          doc.Source,
			SourceType:      string(doc.SourceType),
			ArticleNumber:   optional(doc.ArticleNumber),
			Category:        optional(doc.Category),
			Score:           doc.Score,
			RelatedArticles: doc.RelatedArticles,
		}
	}
	return converted
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
