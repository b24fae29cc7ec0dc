package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/aiact-explorer/knowledge"
)

func TestExtractReferences(t *testing.T) {
	cases := []struct {
		name string
		text string
		self string
		want []string
	}{
		{
			name: "single",
			text: "Les obligations visées à l'article 16 s'appliquent.",
			want: []string{"16"},
		},
		{
			name: "list",
			text: "conformément aux articles 9, 10 et 15, ainsi qu'à l'Article 72",
			want: []string{"9", "10", "15", "72"},
		},
		{
			name: "self and duplicates",
			text: "Aux fins de l'article 3, voir l'article 25 et l'article 25.",
			self: "3",
			want: []string{"25"},
		},
		{
			name: "english",
			text: "as referred to in Article 6 or 7",
			want: []string{"6", "7"},
		},
		{
			name: "none",
			text: "«système d'IA», un système automatisé...",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, knowledge.ExtractReferences(tc.text, tc.self))
		})
	}
}

func TestArticleSortKey(t *testing.T) {
	assert.Less(t, knowledge.ArticleSortKey("6"), knowledge.ArticleSortKey("6a"))
	assert.Less(t, knowledge.ArticleSortKey("6a"), knowledge.ArticleSortKey("7"))
	assert.Less(t, knowledge.ArticleSortKey("9"), knowledge.ArticleSortKey("10"))
	assert.Equal(t, 0, knowledge.ArticleSortKey("annexe"))
}

func TestGraphRequiresDriver(t *testing.T) {
	graph := knowledge.NewGraph(nil)
	require.Error(t, graph.SyncDocument(context.Background(), knowledge.Document{ID: "x"}))
	require.Error(t, graph.Clear(context.Background()))
}
