package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a single-file store for local development and tests. It
// scores every candidate chunk in Go, so it suits corpora of a few thousand
// chunks such as the AI Act itself.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	dimension int
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// an ephemeral store.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, dimension: dimension}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS rag_documents (
		id TEXT PRIMARY KEY,
		source_path TEXT UNIQUE NOT NULL,
		title TEXT,
		source_type TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS rag_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_name TEXT NOT NULL,
		article_number TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_rag_chunks_source_type ON rag_chunks(source_type);
	`)
	return err
}

func (s *SQLiteStore) Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error) {
	query, err := query.Normalize()
	if err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(query.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d", ErrInvalidQuery, len(query.Vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(query.SourceTypes))
	args := make([]any, len(query.SourceTypes))
	for i, st := range query.SourceTypes {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source_name, source_type, article_number, category, embedding
		FROM rag_chunks
		WHERE source_type IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	results := make([]RetrievalResult, 0)
	for rows.Next() {
		var item RetrievalResult
		var sourceType string
		var embeddingJSON []byte
		if err := rows.Scan(&item.ChunkID, &item.Content, &item.SourceName, &sourceType, &item.ArticleNumber, &item.Category, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		var embedding []float32
		if err := json.Unmarshal(embeddingJSON, &embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of chunk %s: %w", item.ChunkID, err)
		}
		item.Score = CosineSimilarity(query.Vector, embedding)
		if item.Score < query.Threshold {
			continue
		}
		item.SourceType = SourceType(sourceType)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sortResults(results)
	if len(results) > query.MaxResults {
		results = results[:query.MaxResults]
	}
	return results, nil
}

func (s *SQLiteStore) DocumentSHA(ctx context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sha string
	err := s.db.QueryRowContext(ctx, "SELECT sha256 FROM rag_documents WHERE source_path = ?", path).Scan(&sha)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query document: %w", err)
	}
	return sha, true, nil
}

func (s *SQLiteStore) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) (string, error) {
	for _, chunk := range chunks {
		if err := chunk.Validate(s.dimension); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var docID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM rag_documents WHERE source_path = ?", doc.Path).Scan(&docID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		docID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rag_documents (id, source_path, title, source_type, sha256) VALUES (?, ?, ?, ?, ?)
		`, docID, doc.Path, doc.Title, string(doc.SourceType), doc.SHA); err != nil {
			return "", fmt.Errorf("insert document: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("query document: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE rag_documents SET title = ?, source_type = ?, sha256 = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, doc.Title, string(doc.SourceType), doc.SHA, docID); err != nil {
			return "", fmt.Errorf("update document: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rag_chunks WHERE document_id = ?", docID); err != nil {
		return "", fmt.Errorf("clear existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_chunks (id, document_id, chunk_index, content, source_type, source_name, article_number, category, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for idx, chunk := range chunks {
		chunkID := chunk.ID
		if chunkID == "" {
			chunkID = uuid.NewString()
		}
		embeddingJSON, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return "", fmt.Errorf("encode embedding: %w", err)
		}
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = Metadata{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, chunkID, docID, idx, chunk.Content, string(chunk.SourceType), chunk.SourceName,
			chunk.ArticleNumber, chunk.Category, string(metadataJSON), embeddingJSON); err != nil {
			return "", fmt.Errorf("insert chunk %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return docID, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM rag_chunks; DELETE FROM rag_documents;"); err != nil {
		return fmt.Errorf("clear sqlite tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{BySource: map[SourceType]int{}}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rag_documents").Scan(&stats.Documents); err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT source_type, COUNT(*) FROM rag_chunks GROUP BY source_type")
	if err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return Stats{}, fmt.Errorf("scan chunk count: %w", err)
		}
		stats.BySource[SourceType(st)] = n
		stats.Chunks += n
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Store   = (*SQLiteStore)(nil)
	_ Indexer = (*SQLiteStore)(nil)
)
