package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/knowledge"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// DocumentPayload is one file read from disk.
type DocumentPayload struct {
	Path       string
	Data       []byte
	SourceType corpus.SourceType
}

type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error)
}

// Fragment is a chunk before it gets an ID and an embedding.
type Fragment struct {
	Text          string
	SourceName    string
	ArticleNumber string
	Category      string
	Metadata      corpus.Metadata
}

type ParsedDocument struct {
	Title      string
	SourceType corpus.SourceType
	Fragments  []Fragment
	Articles   []knowledge.Article
}

// ParserFor returns the parser for format, or nil when unsupported.
func ParserFor(format DocumentFormat) DocumentParser {
	switch format {
	case FormatCorpus:
		return corpusParser{}
	case FormatMarkdown:
		return markdownParser{}
	case FormatPDF:
		return pdfParser{}
	default:
		return nil
	}
}

type corpusParser struct{}

func (corpusParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	return ParseCorpusFile(payload.Data, payload.SourceType, baseName(payload.Path))
}

type markdownParser struct{}

func (markdownParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := string(payload.Data)
	title := ExtractTitle(content, baseName(payload.Path))
	return guidanceDocument(title, payload.SourceType, ChunkMarkdown(content, defaultChunkSize, defaultChunkOverlap)), nil
}

type pdfParser struct{}

func (pdfParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}
	return guidanceDocument(title, payload.SourceType, ChunkText(content, defaultChunkSize, defaultChunkOverlap)), nil
}

// guidanceDocument turns plain chunks into fragments cited by document title
// and chunk position.
func guidanceDocument(title string, sourceType corpus.SourceType, chunks []string) *ParsedDocument {
	doc := &ParsedDocument{Title: title, SourceType: sourceType}
	for i, text := range chunks {
		doc.Fragments = append(doc.Fragments, Fragment{
			Text:       text,
			SourceName: title,
			Category:   corpus.CategoryGuideline,
			Metadata: corpus.Metadata{
				corpus.MetaTitle:     title,
				corpus.MetaParagraph: i + 1,
			},
		})
	}
	return doc
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

// ChunkMarkdown groups blank-line separated paragraphs into chunks of about
// target bytes. With overlap > 0 each chunk starts with the previous chunk's
// last paragraph.
func ChunkMarkdown(content string, target, overlap int) []string {
	clean := strings.ReplaceAll(content, "\r\n", "\n")
	paragraphs := strings.Split(clean, "\n\n")
	chunks := make([]string, 0)
	current := make([]string, 0)
	currentLen := 0

	for _, paragraph := range paragraphs {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}

		paragraphLen := len(p)
		if currentLen+paragraphLen > target && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			if overlap > 0 {
				last := current[len(current)-1]
				current = []string{last}
				currentLen = len(last)
			} else {
				current = current[:0]
				currentLen = 0
			}
		}

		current = append(current, p)
		currentLen += paragraphLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	return chunks
}

// ChunkText is ChunkMarkdown for extracted text where paragraphs may be
// missing: any paragraph longer than target is first split on word
// boundaries.
func ChunkText(content string, target, overlap int) []string {
	clean := normalizePlainText(content)
	var paragraphs []string
	for _, paragraph := range strings.Split(clean, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		paragraphs = append(paragraphs, splitLong(paragraph, target)...)
	}
	return ChunkMarkdown(strings.Join(paragraphs, "\n\n"), target, overlap)
}

func splitLong(text string, target int) []string {
	if target <= 0 || len(text) <= target {
		return []string{text}
	}
	var (
		parts   []string
		current strings.Builder
	)
	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+1+len(word) > target {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
