package corpus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	DefaultThreshold  = 0.1
	DefaultMaxResults = 20
	MaxResultsCeiling = 100
)

var ErrInvalidQuery = errors.New("invalid query")

// SearchQuery describes one similarity lookup.
type SearchQuery struct {
	Vector      []float32
	SourceTypes []SourceType
	Threshold   float64
	MaxResults  int
}

// Normalize validates q and applies the result cap.
func (q SearchQuery) Normalize() (SearchQuery, error) {
	if len(q.Vector) == 0 {
		return q, fmt.Errorf("%w: query vector is empty", ErrInvalidQuery)
	}
	if len(q.SourceTypes) == 0 {
		return q, fmt.Errorf("%w: at least one source type is required", ErrInvalidQuery)
	}
	seen := make(map[SourceType]struct{}, len(q.SourceTypes))
	types := make([]SourceType, 0, len(q.SourceTypes))
	for _, st := range q.SourceTypes {
		if !st.Valid() {
			return q, fmt.Errorf("%w: %w: %q", ErrInvalidQuery, ErrUnknownSourceType, st)
		}
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		types = append(types, st)
	}
	q.SourceTypes = types

	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > MaxResultsCeiling {
		q.MaxResults = MaxResultsCeiling
	}
	return q, nil
}

func (q SearchQuery) sourceTypeStrings() []string {
	out := make([]string, len(q.SourceTypes))
	for i, st := range q.SourceTypes {
		out[i] = string(st)
	}
	return out
}

// Store is the read side used by the question pipeline.
type Store interface {
	Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error)
}

// Indexer is the write side used by corpus import.
type Indexer interface {
	DocumentSHA(ctx context.Context, path string) (sha string, found bool, err error)
	// ReplaceDocument upserts doc by path and atomically swaps its chunks.
	ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) (string, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is empty, zero or of a different length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortResults orders by descending score, then ascending chunk ID so that a
// fixed corpus always yields the same sequence.
func sortResults(results []RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
