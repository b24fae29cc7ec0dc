package corpus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps chunks in the rag_documents / rag_chunks tables created
// by database.EnsureSchema and searches them with pgvector cosine distance.
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPostgresStore(pool *pgxpool.Pool, dimension int) *PostgresStore {
	return &PostgresStore{pool: pool, dimension: dimension}
}

func (s *PostgresStore) Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	query, err := query.Normalize()
	if err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(query.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d", ErrInvalidQuery, len(query.Vector), s.dimension)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := query.MaxResults * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT
            rc.id::text,
            rc.content,
            rc.source_name,
            rc.source_type,
            COALESCE(rc.article_number, ''),
            COALESCE(rc.category, ''),
            1 - (rc.embedding <=> $1::vector) AS similarity
        FROM rag_chunks rc
        WHERE rc.source_type = ANY($2)
          AND 1 - (rc.embedding <=> $1::vector) >= $3
        ORDER BY rc.embedding <=> $1::vector, rc.id
        LIMIT $4
    `, pgvector.NewVector(query.Vector), query.sourceTypeStrings(), query.Threshold, query.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]RetrievalResult, 0)
	for rows.Next() {
		var item RetrievalResult
		var sourceType string
		if scanErr := rows.Scan(&item.ChunkID, &item.Content, &item.SourceName, &sourceType, &item.ArticleNumber, &item.Category, &item.Score); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		item.SourceType = SourceType(sourceType)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	sortResults(results)
	return results, nil
}

func (s *PostgresStore) DocumentSHA(ctx context.Context, path string) (string, bool, error) {
	var sha string
	err := s.pool.QueryRow(ctx, "SELECT sha256 FROM rag_documents WHERE source_path = $1", path).Scan(&sha)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query document: %w", err)
	}
	return sha, true, nil
}

func (s *PostgresStore) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) (docID string, err error) {
	if s.pool == nil {
		return "", fmt.Errorf("postgres pool is nil")
	}
	for _, chunk := range chunks {
		if err := chunk.Validate(s.dimension); err != nil {
			return "", err
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO rag_documents (id, source_path, title, source_type, sha256, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (source_path) DO UPDATE
		SET title = EXCLUDED.title,
		    source_type = EXCLUDED.source_type,
		    sha256 = EXCLUDED.sha256,
		    updated_at = NOW()
		RETURNING id
	`, uuid.New(), doc.Path, doc.Title, string(doc.SourceType), doc.SHA).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert document: %w", err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_chunks WHERE document_id = $1", id); err != nil {
		return "", fmt.Errorf("clear existing chunks: %w", err)
	}

	for idx, chunk := range chunks {
		chunkID := chunk.ID
		if chunkID == "" {
			chunkID = uuid.NewString()
		}
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = Metadata{}
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, document_id, chunk_index, content, source_type, source_name, article_number, category, metadata, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, NOW())
		`, chunkID, id, idx, chunk.Content, string(chunk.SourceType), chunk.SourceName, chunk.ArticleNumber, chunk.Category, map[string]any(metadata), pgvector.NewVector(chunk.Embedding)); err != nil {
			return "", fmt.Errorf("insert chunk %d: %w", idx, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return id.String(), nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE rag_chunks, rag_documents"); err != nil {
		return fmt.Errorf("truncate postgres tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{BySource: map[SourceType]int{}}
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rag_documents").Scan(&stats.Documents); err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT source_type, COUNT(*) FROM rag_chunks GROUP BY source_type")
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

var (
	_ Store   = (*PostgresStore)(nil)
	_ Indexer = (*PostgresStore)(nil)
)
