package corpus_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/fabfab/aiact-explorer/config"
	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/database"
)

func TestPostgresSearchRanking(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		t.Fatalf("postgres connection: %v", err)
	}
	defer pool.Close()

	dim := cfg.Embeddings.Dimension
	if err := database.EnsureSchema(ctx, pool, dim); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	store := corpus.NewPostgresStore(pool, dim)
	path := "integration/" + uuid.NewString() + ".yaml"
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DELETE FROM rag_documents WHERE source_path = $1", path)
	})

	makeVector := func(x, y float32) []float32 {
		vec := make([]float32, dim)
		vec[0] = x
		vec[1] = y
		return vec
	}

	chunkA := uuid.NewString()
	chunkB := uuid.NewString()
	if _, err := store.ReplaceDocument(ctx, corpus.Document{Path: path, Title: "AI Act", SourceType: corpus.SourceRegulation, SHA: "sha"}, []corpus.Chunk{
		{
			ID:            chunkA,
			Content:       "«fournisseur en aval»",
			Embedding:     makeVector(1, 0),
			SourceType:    corpus.SourceRegulation,
			SourceName:    "Règlement (UE) 2024/1689 - Article 3",
			ArticleNumber: "3",
			Category:      corpus.CategoryDefinition,
			Metadata:      corpus.Metadata{corpus.MetaDefinedTerm: "fournisseur en aval"},
		},
		{
			ID:         chunkB,
			Content:    "Considérant",
			Embedding:  makeVector(1, 1),
			SourceType: corpus.SourceRegulation,
			SourceName: "Règlement (UE) 2024/1689 - Considérant 97",
			Category:   corpus.CategoryRecital,
		},
	}); err != nil {
		t.Fatalf("replace document: %v", err)
	}

	results, err := store.Search(ctx, corpus.SearchQuery{
		Vector:      makeVector(0.9, 0.1),
		SourceTypes: []corpus.SourceType{corpus.SourceRegulation},
		Threshold:   0.1,
		MaxResults:  20,
	})
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}

	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	if results[0].ChunkID != chunkA {
		t.Fatalf("expected first result chunk %s, got %s", chunkA, results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected first score to be higher, got %f <= %f", results[0].Score, results[1].Score)
	}
}
