// Package corpus holds the legal text chunks that back retrieval and the
// stores that persist and search them.
package corpus

import (
	"errors"
	"fmt"
	"strings"
)

// SourceType is the closed set of corpus categories used for filtering.
type SourceType string

const (
	SourceRegulation SourceType = "regulation"
	SourceGuidelines SourceType = "guidelines"
	SourceCaseLaw    SourceType = "case_law"
)

// KnownSourceTypes lists every accepted SourceType in display order.
var KnownSourceTypes = []SourceType{SourceRegulation, SourceGuidelines, SourceCaseLaw}

func (s SourceType) Valid() bool {
	switch s {
	case SourceRegulation, SourceGuidelines, SourceCaseLaw:
		return true
	default:
		return false
	}
}

var ErrUnknownSourceType = errors.New("unknown source type")

// ParseSourceType normalises raw and rejects values outside KnownSourceTypes.
func ParseSourceType(raw string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(raw)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, raw)
	}
	return st, nil
}

const (
	CategoryDefinition = "definition"
	CategoryObligation = "obligation"
	CategorySanction   = "sanction"
	CategoryRecital    = "recital"
	CategoryArticle    = "article"
	CategoryAnnex      = "annex"
	CategoryGuideline  = "guideline"
)

// Well-known metadata keys. The map stays open to other keys.
const (
	MetaDefinedTerm = "defined_term"
	MetaChapter     = "chapter"
	MetaTitle       = "title"
	MetaParagraph   = "paragraph"
	MetaAnnex       = "annex"
	MetaRecital     = "recital"
)

// Metadata is an open set of auxiliary chunk fields. Values must be
// primitives: string, bool, int, int64 or float64.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func (m Metadata) DefinedTerm() string { return m.String(MetaDefinedTerm) }

func (m Metadata) Validate() error {
	for key, value := range m {
		switch value.(type) {
		case string, bool, int, int64, float64:
		default:
			return fmt.Errorf("metadata %q has non-primitive value of type %T", key, value)
		}
	}
	return nil
}

// Chunk is one embedded span of the corpus. Chunks are never updated in
// place: a changed source document has all of its chunks replaced.
type Chunk struct {
	ID            string
	Content       string
	Embedding     []float32
	SourceType    SourceType
	SourceName    string
	ArticleNumber string
	Category      string
	Metadata      Metadata
}

// Validate enforces the chunk invariants against the store's embedding
// dimension.
func (c Chunk) Validate(dimension int) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk %s: content is empty", c.ID)
	}
	if !c.SourceType.Valid() {
		return fmt.Errorf("chunk %s: %w: %q", c.ID, ErrUnknownSourceType, c.SourceType)
	}
	if dimension > 0 && len(c.Embedding) != dimension {
		return fmt.Errorf("chunk %s: embedding dimension mismatch: expected %d, got %d", c.ID, dimension, len(c.Embedding))
	}
	if c.Category == CategoryDefinition {
		if c.ArticleNumber == "" {
			return fmt.Errorf("chunk %s: definition without article number", c.ID)
		}
		if c.Metadata.DefinedTerm() == "" {
			return fmt.Errorf("chunk %s: definition without defined term", c.ID)
		}
	}
	if err := c.Metadata.Validate(); err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	return nil
}

// Document is the imported source file that owns a set of chunks.
type Document struct {
	ID         string
	Path       string
	Title      string
	SourceType SourceType
	SHA        string
}

// RetrievalResult is a read-only projection of a chunk scored against one
// query.
type RetrievalResult struct {
	ChunkID       string
	Content       string
	SourceName    string
	SourceType    SourceType
	ArticleNumber string
	Category      string
	Score         float64
}

type Stats struct {
	Documents int
	Chunks    int
	BySource  map[SourceType]int
}
