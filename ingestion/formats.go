// Package ingestion imports corpus files into the document store and the
// article graph.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatCorpus represents structured corpus files (YAML or JSON).
	FormatCorpus DocumentFormat = "corpus"
	// FormatMarkdown represents Markdown guidance documents.
	FormatMarkdown DocumentFormat = "markdown"
	// FormatPDF represents PDF guidance documents.
	FormatPDF DocumentFormat = "pdf"
)

// SupportedExtensions lists the file extensions an import picks up.
var SupportedExtensions = []string{".yaml", ".yml", ".json", ".md", ".markdown", ".pdf"}

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json":
		return FormatCorpus
	case ".md", ".markdown":
		return FormatMarkdown
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}
