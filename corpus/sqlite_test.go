package corpus_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/aiact-explorer/corpus"
)

func newTestStore(t *testing.T) *corpus.SQLiteStore {
	t.Helper()
	store, err := corpus.NewSQLiteStore(":memory:", 3)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStore(t *testing.T, store *corpus.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.ReplaceDocument(ctx, corpus.Document{Path: "regulation.yaml", Title: "AI Act", SourceType: corpus.SourceRegulation, SHA: "a"}, []corpus.Chunk{
		{
			ID:            "b-definition",
			Content:       "«fournisseur en aval», un fournisseur d'un système d'IA",
			Embedding:     []float32{1, 0, 0},
			SourceType:    corpus.SourceRegulation,
			SourceName:    "Règlement (UE) 2024/1689 - Article 3",
			ArticleNumber: "3",
			Category:      corpus.CategoryDefinition,
			Metadata:      corpus.Metadata{corpus.MetaDefinedTerm: "fournisseur en aval"},
		},
		{
			ID:            "a-obligation",
			Content:       "Les fournisseurs veillent à ce que...",
			Embedding:     []float32{1, 0, 0},
			SourceType:    corpus.SourceRegulation,
			SourceName:    "Règlement (UE) 2024/1689 - Article 16",
			ArticleNumber: "16",
			Category:      corpus.CategoryObligation,
		},
		{
			ID:         "c-orthogonal",
			Content:    "Sans rapport.",
			Embedding:  []float32{0, 1, 0},
			SourceType: corpus.SourceRegulation,
			SourceName: "Règlement (UE) 2024/1689 - Considérant 1",
			Category:   corpus.CategoryRecital,
		},
	})
	require.NoError(t, err)

	_, err = store.ReplaceDocument(ctx, corpus.Document{Path: "guidelines.md", Title: "Lignes directrices", SourceType: corpus.SourceGuidelines, SHA: "b"}, []corpus.Chunk{
		{
			ID:         "g-1",
			Content:    "Les lignes directrices précisent...",
			Embedding:  []float32{0.8, 0.6, 0},
			SourceType: corpus.SourceGuidelines,
			SourceName: "Lignes directrices - § 1",
			Category:   corpus.CategoryGuideline,
		},
	})
	require.NoError(t, err)
}

func ids(results []corpus.RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestSQLiteSearchOrdersAndFilters(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	query := corpus.SearchQuery{
		Vector:      []float32{1, 0, 0},
		SourceTypes: []corpus.SourceType{corpus.SourceRegulation, corpus.SourceGuidelines},
		Threshold:   0.1,
		MaxResults:  20,
	}
	results, err := store.Search(context.Background(), query)
	require.NoError(t, err)

	// Equal scores fall back to chunk ID order; the orthogonal chunk is below threshold.
	want := []string{"a-obligation", "b-definition", "g-1"}
	if diff := cmp.Diff(want, ids(results)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.8, results[2].Score, 1e-6)
	assert.Equal(t, "3", results[1].ArticleNumber)
	assert.Equal(t, corpus.CategoryDefinition, results[1].Category)

	again, err := store.Search(context.Background(), query)
	require.NoError(t, err)
	if diff := cmp.Diff(results, again); diff != "" {
		t.Fatalf("repeated search differs (-first +second):\n%s", diff)
	}
}

func TestSQLiteSearchSourceTypeFilterAndCap(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	results, err := store.Search(context.Background(), corpus.SearchQuery{
		Vector:      []float32{1, 0, 0},
		SourceTypes: []corpus.SourceType{corpus.SourceGuidelines},
		Threshold:   0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-1"}, ids(results))

	results, err = store.Search(context.Background(), corpus.SearchQuery{
		Vector:      []float32{1, 0, 0},
		SourceTypes: []corpus.SourceType{corpus.SourceRegulation},
		Threshold:   0.1,
		MaxResults:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-obligation"}, ids(results))
}

func TestSQLiteSearchEmptyIsNotError(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	results, err := store.Search(context.Background(), corpus.SearchQuery{
		Vector:      []float32{0, 0, 1},
		SourceTypes: []corpus.SourceType{corpus.SourceRegulation},
		Threshold:   0.1,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteSearchRejectsInvalidQuery(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Search(context.Background(), corpus.SearchQuery{Vector: []float32{1, 0, 0}})
	require.ErrorIs(t, err, corpus.ErrInvalidQuery)

	_, err = store.Search(context.Background(), corpus.SearchQuery{
		Vector:      []float32{1, 0},
		SourceTypes: []corpus.SourceType{corpus.SourceRegulation},
	})
	require.ErrorIs(t, err, corpus.ErrInvalidQuery)
}

func TestSQLiteReplaceDocumentSwapsChunks(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)
	ctx := context.Background()

	sha, found, err := store.DocumentSHA(ctx, "guidelines.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", sha)

	_, err = store.ReplaceDocument(ctx, corpus.Document{Path: "guidelines.md", Title: "Lignes directrices", SourceType: corpus.SourceGuidelines, SHA: "c"}, []corpus.Chunk{
		{ID: "g-2", Content: "Nouvelle version.", Embedding: []float32{1, 0, 0}, SourceType: corpus.SourceGuidelines, SourceName: "Lignes directrices - § 1"},
	})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 1, stats.BySource[corpus.SourceGuidelines])

	results, err := store.Search(ctx, corpus.SearchQuery{
		Vector:      []float32{1, 0, 0},
		SourceTypes: []corpus.SourceType{corpus.SourceGuidelines},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-2"}, ids(results))

	require.NoError(t, store.Clear(ctx))
	_, found, err = store.DocumentSHA(ctx, "guidelines.md")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteReplaceDocumentValidatesChunks(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ReplaceDocument(context.Background(), corpus.Document{Path: "bad.yaml", SourceType: corpus.SourceRegulation, SHA: "x"}, []corpus.Chunk{
		{ID: "bad", Content: "x", Embedding: []float32{1}, SourceType: corpus.SourceRegulation},
	})
	require.Error(t, err)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
}
