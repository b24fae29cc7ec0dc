package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the pgvector extension and the document and chunk
// tables used by corpus.PostgresStore.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id UUID PRIMARY KEY,
			source_path TEXT UNIQUE NOT NULL,
			title TEXT,
			source_type TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES rag_documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			source_type TEXT NOT NULL CHECK (source_type IN ('regulation', 'guidelines', 'case_law')),
			source_name TEXT NOT NULL,
			article_number TEXT,
			category TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, chunk_index),
			CHECK (category IS DISTINCT FROM 'definition' OR (article_number IS NOT NULL AND metadata ? 'defined_term'))
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_source_type ON rag_chunks(source_type)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
