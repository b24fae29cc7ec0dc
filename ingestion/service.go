package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/embeddings"
	"github.com/fabfab/aiact-explorer/knowledge"
	"github.com/fabfab/aiact-explorer/logging"
	"github.com/fabfab/aiact-explorer/metrics"
)

const defaultBatchSize = 64

// Graph receives the article structure of imported documents.
type Graph interface {
	SyncDocument(ctx context.Context, doc knowledge.Document) error
	Clear(ctx context.Context) error
}

type Options struct {
	// SourceType applies to files that do not declare their own, either in
	// the file itself or by living under a source type directory.
	SourceType corpus.SourceType
	Dimension  int
	BatchSize  int
}

type Service struct {
	index    corpus.Indexer
	graph    Graph
	embedder embeddings.Embedder
	logger   *zap.SugaredLogger
	opts     Options
}

// Summary reports one directory import.
type Summary struct {
	Files     int
	Imported  int
	Unchanged int
	Failed    int
	Chunks    int
}

// FileResult reports one file import.
type FileResult struct {
	Path      string
	Chunks    int
	Unchanged bool
}

// NewService builds an importer. graph and logger may be nil.
func NewService(index corpus.Indexer, graph Graph, embedder embeddings.Embedder, logger *zap.SugaredLogger, opts Options) *Service {
	if opts.SourceType == "" {
		opts.SourceType = corpus.SourceRegulation
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Service{
		index:    index,
		graph:    graph,
		embedder: embedder,
		logger:   logging.OrNop(logger),
		opts:     opts,
	}
}

// IngestDirectory imports every supported file below dir. A failing file
// does not stop the import; all failures are returned together.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Summary, error) {
	var summary Summary
	if s.embedder == nil {
		return summary, fmt.Errorf("embedder not configured")
	}
	if s.index == nil {
		return summary, fmt.Errorf("document store not configured")
	}
	if _, err := os.Stat(dir); err != nil {
		return summary, fmt.Errorf("data directory: %w", err)
	}

	entries := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) != FormatUnknown {
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return summary, fmt.Errorf("walk data directory: %w", err)
	}
	sort.Strings(entries)

	if len(entries) == 0 {
		s.logger.Infow("no corpus files found", "dir", dir)
		return summary, nil
	}

	var errs *multierror.Error
	for _, path := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Files++
		result, err := s.IngestFile(ctx, dir, path)
		if err != nil {
			summary.Failed++
			s.logger.Errorw("ingest failed", "path", path, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if result.Unchanged {
			summary.Unchanged++
			continue
		}
		summary.Imported++
		summary.Chunks += result.Chunks
	}

	return summary, errs.ErrorOrNil()
}

// IngestFile imports path, replacing the previous version of the document
// when its content hash changed. root makes the stored path relative.
func (s *Service) IngestFile(ctx context.Context, root, path string) (FileResult, error) {
	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)
	result := FileResult{Path: relPath}

	parser := ParserFor(DetectFormat(path))
	if parser == nil {
		return result, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("read file: %w", err)
	}
	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])

	existing, found, err := s.index.DocumentSHA(ctx, relPath)
	if err != nil {
		return result, fmt.Errorf("lookup document: %w", err)
	}
	if found && existing == hashHex {
		s.logger.Debugw("no updates required", "path", relPath)
		result.Unchanged = true
		return result, nil
	}

	parsed, err := parser.Parse(ctx, DocumentPayload{Path: path, Data: data, SourceType: s.sourceTypeFor(relPath)})
	if err != nil {
		return result, fmt.Errorf("parse: %w", err)
	}
	if len(parsed.Fragments) == 0 {
		s.logger.Infow("skip empty document", "path", relPath)
		result.Unchanged = true
		return result, nil
	}

	chunks, err := s.embedFragments(ctx, parsed)
	if err != nil {
		return result, err
	}

	doc := corpus.Document{Path: relPath, Title: parsed.Title, SourceType: parsed.SourceType, SHA: hashHex}
	docID, err := s.index.ReplaceDocument(ctx, doc, chunks)
	if err != nil {
		return result, fmt.Errorf("store chunks: %w", err)
	}
	metrics.AddImportedChunks(string(parsed.SourceType), len(chunks))

	if s.graph != nil && len(parsed.Articles) > 0 {
		if err := s.graph.SyncDocument(ctx, knowledge.Document{
			ID:         docID,
			Path:       relPath,
			Title:      parsed.Title,
			SHA:        hashHex,
			SourceType: string(parsed.SourceType),
			Articles:   parsed.Articles,
		}); err != nil {
			return result, fmt.Errorf("sync knowledge graph: %w", err)
		}
	}

	result.Chunks = len(chunks)
	s.logger.Infow("ingested document", "path", relPath, "chunks", len(chunks), "sourceType", parsed.SourceType)
	return result, nil
}

// sourceTypeFor picks the source type of files that do not declare one. A
// top-level directory named after a source type (guidelines/, case_law/)
// wins over Options.SourceType.
func (s *Service) sourceTypeFor(relPath string) corpus.SourceType {
	top, _, nested := strings.Cut(relPath, "/")
	if !nested {
		return s.opts.SourceType
	}
	if st, err := corpus.ParseSourceType(top); err == nil {
		return st
	}
	return s.opts.SourceType
}

func (s *Service) embedFragments(ctx context.Context, parsed *ParsedDocument) ([]corpus.Chunk, error) {
	chunks := make([]corpus.Chunk, 0, len(parsed.Fragments))
	for start := 0; start < len(parsed.Fragments); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(parsed.Fragments))
		batch := parsed.Fragments[start:end]

		texts := make([]string, len(batch))
		for i, fragment := range batch {
			texts[i] = fragment.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("generate embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(batch), len(vectors))
		}

		for i, fragment := range batch {
			chunk := corpus.Chunk{
				ID:            uuid.NewString(),
				Content:       fragment.Text,
				Embedding:     vectors[i],
				SourceType:    parsed.SourceType,
				SourceName:    fragment.SourceName,
				ArticleNumber: fragment.ArticleNumber,
				Category:      fragment.Category,
				Metadata:      fragment.Metadata,
			}
			if err := chunk.Validate(s.opts.Dimension); err != nil {
				return nil, err
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// Clear removes every imported document from the store and the graph.
func (s *Service) Clear(ctx context.Context) error {
	var errs *multierror.Error
	if s.index != nil {
		if err := s.index.Clear(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("clear document store: %w", err))
		}
	}
	if s.graph != nil {
		if err := s.graph.Clear(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("clear knowledge graph: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
