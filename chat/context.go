package chat

import (
	"fmt"
	"strings"

	"github.com/fabfab/aiact-explorer/corpus"
)

// AssembledContext is the serialized retrieval block handed to the prompt
// builder together with the source composition flags.
type AssembledContext struct {
	Text          string
	HasRegulation bool
	HasGuidelines bool
	Documents     int
}

// AssembleContext renders results in the order given, one numbered header per
// result followed by its content. It never re-ranks.
func AssembleContext(results []corpus.RetrievalResult) AssembledContext {
	var (
		sb        strings.Builder
		assembled AssembledContext
	)
	for i := range results {
		result := &results[i]
		switch result.SourceType {
		case corpus.SourceRegulation:
			assembled.HasRegulation = true
		case corpus.SourceGuidelines:
			assembled.HasGuidelines = true
		}

		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(contextHeader(i+1, result))
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(result.Content))
	}
	assembled.Text = sb.String()
	assembled.Documents = len(results)
	return assembled
}

func contextHeader(index int, result *corpus.RetrievalResult) string {
	parts := []string{fmt.Sprintf("Document %d", index), string(result.SourceType)}
	if article := strings.TrimSpace(result.ArticleNumber); article != "" {
		parts = append(parts, "Article "+article)
	}
	if category := strings.TrimSpace(result.Category); category != "" {
		parts = append(parts, category)
	}
	return fmt.Sprintf("[%s] Source: %s", strings.Join(parts, " | "), result.SourceName)
}
