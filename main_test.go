package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/corpus"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "ask", "ingest", "mcp", "clear"} {
		assert.Contains(t, names, want)
	}
}

func TestAskDefaultsToRegulationAndGuidelines(t *testing.T) {
	cmd := newAskCommand()
	sources, err := cmd.Flags().GetStringSlice("source")
	require.NoError(t, err)
	assert.Equal(t, []string{"regulation", "guidelines"}, sources)
}

func TestClearAbortsWithoutConfirmation(t *testing.T) {
	cmd := newClearCommand()
	var stderr bytes.Buffer
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stderr.String(), "clear aborted")
}

func TestPrintResponse(t *testing.T) {
	var out bytes.Buffer
	printResponse(&out, chat.Response{
		Answer: "Réponse",
		Documents: []chat.Document{{
			Source:          "AI Act - Article 5",
			SourceType:      corpus.SourceRegulation,
			Score:           0.82,
			RelatedArticles: []string{"3", "6"},
		}},
	})

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Réponse\n"))
	assert.Contains(t, text, "1. AI Act - Article 5 (regulation, score 0.82)")
	assert.Contains(t, text, "Related articles: 3, 6")
}

func TestPrintResponseWithoutDocuments(t *testing.T) {
	var out bytes.Buffer
	printResponse(&out, chat.Response{Answer: chat.NoRelevantDocumentsAnswer})
	assert.Equal(t, chat.NoRelevantDocumentsAnswer+"\n", out.String())
}
