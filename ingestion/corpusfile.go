package ingestion

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/knowledge"
)

// Entry kinds of a structured corpus file.
const (
	KindArticle    = "article"
	KindDefinition = "definition"
	KindRecital    = "recital"
	KindAnnex      = "annex"
)

// CorpusFile is the structured form of the regulation (or any source) text.
// JSON files use the same field names.
type CorpusFile struct {
	SourceType string        `yaml:"source_type"`
	SourceName string        `yaml:"source_name"`
	Title      string        `yaml:"title"`
	Entries    []CorpusEntry `yaml:"entries"`
}

type CorpusEntry struct {
	Kind       string         `yaml:"kind"`
	Number     string         `yaml:"number"`
	Title      string         `yaml:"title"`
	Chapter    string         `yaml:"chapter"`
	Category   string         `yaml:"category"`
	Term       string         `yaml:"term"`
	Point      string         `yaml:"point"`
	Text       string         `yaml:"text"`
	Paragraphs []string       `yaml:"paragraphs"`
	Metadata   map[string]any `yaml:"metadata"`
}

// ParseCorpusFile decodes data and turns every entry into chunk fragments.
// defaultSource applies when the file does not name a source type.
func ParseCorpusFile(data []byte, defaultSource corpus.SourceType, fallbackTitle string) (*ParsedDocument, error) {
	var file CorpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode corpus file: %w", err)
	}

	sourceType := defaultSource
	if strings.TrimSpace(file.SourceType) != "" {
		st, err := corpus.ParseSourceType(file.SourceType)
		if err != nil {
			return nil, err
		}
		sourceType = st
	}

	title := strings.TrimSpace(file.Title)
	if title == "" {
		title = fallbackTitle
	}
	sourceName := strings.TrimSpace(file.SourceName)
	if sourceName == "" {
		sourceName = title
	}

	parsed := &ParsedDocument{Title: title, SourceType: sourceType}
	articles := map[string]*knowledge.Article{}
	var order []string

	for i, entry := range file.Entries {
		entry.Kind = strings.ToLower(strings.TrimSpace(entry.Kind))
		if entry.Kind == "" {
			entry.Kind = KindArticle
		}
		fragments, err := entryFragments(entry, sourceName)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		parsed.Fragments = append(parsed.Fragments, fragments...)

		if entry.Kind != KindArticle && entry.Kind != KindDefinition {
			continue
		}
		number := articleNumberOf(entry)
		if number == "" {
			continue
		}
		article, ok := articles[number]
		if !ok {
			article = &knowledge.Article{Number: number, Title: entry.Title, Chapter: entry.Chapter}
			articles[number] = article
			order = append(order, number)
		}
		for _, fragment := range fragments {
			article.References = mergeRefs(article.References, knowledge.ExtractReferences(fragment.Text, number))
		}
	}

	for _, number := range order {
		parsed.Articles = append(parsed.Articles, *articles[number])
	}
	return parsed, nil
}

func articleNumberOf(entry CorpusEntry) string {
	number := strings.TrimSpace(entry.Number)
	if entry.Kind == KindDefinition && number == "" {
		return "3"
	}
	return number
}

func entryFragments(entry CorpusEntry, sourceName string) ([]Fragment, error) {
	text := strings.TrimSpace(entry.Text)
	number := strings.TrimSpace(entry.Number)
	meta := corpus.Metadata{}
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	if entry.Title != "" {
		meta[corpus.MetaTitle] = entry.Title
	}
	if entry.Chapter != "" {
		meta[corpus.MetaChapter] = entry.Chapter
	}

	switch entry.Kind {
	case KindArticle:
		if number == "" {
			return nil, fmt.Errorf("article without number")
		}
		category := entry.Category
		if category == "" {
			category = corpus.CategoryArticle
		}
		name := fmt.Sprintf("%s - Article %s", sourceName, number)
		paragraphs := entry.Paragraphs
		if len(paragraphs) == 0 {
			if text == "" {
				return nil, fmt.Errorf("article %s has no text", number)
			}
			return []Fragment{{Text: text, SourceName: name, ArticleNumber: number, Category: category, Metadata: meta}}, nil
		}
		fragments := make([]Fragment, 0, len(paragraphs))
		for i, paragraph := range paragraphs {
			paragraph = strings.TrimSpace(paragraph)
			if paragraph == "" {
				continue
			}
			pm := cloneMetadata(meta)
			pm[corpus.MetaParagraph] = i + 1
			fragments = append(fragments, Fragment{
				Text:          paragraph,
				SourceName:    name,
				ArticleNumber: number,
				Category:      category,
				Metadata:      pm,
			})
		}
		return fragments, nil

	case KindDefinition:
		term := strings.TrimSpace(entry.Term)
		if term == "" {
			return nil, fmt.Errorf("definition without term")
		}
		if text == "" {
			return nil, fmt.Errorf("definition %q has no text", term)
		}
		if number == "" {
			number = "3"
		}
		meta[corpus.MetaDefinedTerm] = term
		name := fmt.Sprintf("%s - Article %s", sourceName, number)
		if entry.Point != "" {
			meta[corpus.MetaParagraph] = entry.Point
			name = fmt.Sprintf("%s, point %s", name, entry.Point)
		}
		return []Fragment{{Text: text, SourceName: name, ArticleNumber: number, Category: corpus.CategoryDefinition, Metadata: meta}}, nil

	case KindRecital:
		if number == "" || text == "" {
			return nil, fmt.Errorf("recital requires number and text")
		}
		meta[corpus.MetaRecital] = number
		return []Fragment{{Text: text, SourceName: fmt.Sprintf("%s - Considérant %s", sourceName, number), Category: corpus.CategoryRecital, Metadata: meta}}, nil

	case KindAnnex:
		if number == "" || text == "" {
			return nil, fmt.Errorf("annex requires number and text")
		}
		meta[corpus.MetaAnnex] = number
		var fragments []Fragment
		for _, piece := range ChunkText(text, defaultChunkSize, defaultChunkOverlap) {
			fragments = append(fragments, Fragment{Text: piece, SourceName: fmt.Sprintf("%s - Annexe %s", sourceName, number), Category: corpus.CategoryAnnex, Metadata: cloneMetadata(meta)})
		}
		return fragments, nil

	default:
		return nil, fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
}

func cloneMetadata(meta corpus.Metadata) corpus.Metadata {
	out := make(corpus.Metadata, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func mergeRefs(existing, extra []string) []string {
	for _, ref := range extra {
		found := false
		for _, have := range existing {
			if have == ref {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, ref)
		}
	}
	return existing
}
