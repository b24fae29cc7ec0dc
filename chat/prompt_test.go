package chat_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/llm"
)

func makeTurns(n int) []chat.Turn {
	turns := make([]chat.Turn, n)
	for i := range turns {
		turns[i] = chat.Turn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}
	}
	return turns
}

func TestTruncateHistoryKeepsMostRecentTurns(t *testing.T) {
	for _, h := range []int{0, 1, 3, 5, 6, 12} {
		history := makeTurns(h)
		got := chat.TruncateHistory(history)

		want := min(h, chat.MaxHistoryTurns)
		require.Len(t, got, want, "history length %d", h)
		if diff := cmp.Diff(history[h-want:], got); diff != "" {
			t.Fatalf("history %d mismatch (-want +got):\n%s", h, diff)
		}
	}
}

func TestTruncateHistoryDoesNotAliasInput(t *testing.T) {
	history := makeTurns(7)
	got := chat.TruncateHistory(history)
	got[0].Question = "changed"
	assert.Equal(t, "q2", history[2].Question)
}

func TestBuildPromptMessageOrder(t *testing.T) {
	history := makeTurns(7)
	snapshot := append([]chat.Turn(nil), history...)
	assembled := chat.AssembledContext{Text: "[Document 1 | regulation | Article 5] Source: X\nPratiques interdites", HasRegulation: true, Documents: 1}

	prompt := chat.BuildPrompt(history, assembled, "  Quelles pratiques sont interdites ?  ")

	assert.Equal(t, chat.MixRegulationOnly, prompt.Mix)
	assert.Equal(t, chat.SystemInstruction, prompt.System)
	require.Len(t, prompt.Messages, 11)
	for i := 0; i < 5; i++ {
		assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("q%d", i+2)}, prompt.Messages[2*i])
		assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("a%d", i+2)}, prompt.Messages[2*i+1])
	}

	last := prompt.Messages[10]
	assert.Equal(t, llm.RoleUser, last.Role)
	instruction := strings.Index(last.Content, chat.MixRegulationOnly.Instruction())
	context := strings.Index(last.Content, "Pratiques interdites")
	question := strings.Index(last.Content, "Question : Quelles pratiques sont interdites ?")
	assert.Equal(t, 0, instruction)
	assert.Greater(t, context, instruction)
	assert.Greater(t, question, context)

	all := prompt.All()
	require.Len(t, all, 12)
	assert.Equal(t, llm.RoleSystem, all[0].Role)

	if diff := cmp.Diff(snapshot, history); diff != "" {
		t.Fatalf("history mutated (-want +got):\n%s", diff)
	}
}

func TestSelectSourceMix(t *testing.T) {
	cases := []struct {
		regulation, guidelines bool
		want                   chat.SourceMix
	}{
		{true, false, chat.MixRegulationOnly},
		{false, true, chat.MixGuidelinesOnly},
		{true, true, chat.MixBoth},
		{false, false, chat.MixBoth},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, chat.SelectSourceMix(tc.regulation, tc.guidelines), "regulation=%v guidelines=%v", tc.regulation, tc.guidelines)
	}
}

func TestSourceMixInstructionsAreDistinct(t *testing.T) {
	seen := map[string]chat.SourceMix{}
	for _, mix := range []chat.SourceMix{chat.MixRegulationOnly, chat.MixGuidelinesOnly, chat.MixBoth} {
		text := mix.Instruction()
		require.NotEmpty(t, text, mix.String())
		_, dup := seen[text]
		require.False(t, dup, "instruction for %s reused", mix)
		seen[text] = mix
	}
}

func TestSystemInstructionCarriesRules(t *testing.T) {
	for _, want := range []string{"Article", "lignes directrices", "tableaux", chat.Disclaimer} {
		assert.Contains(t, chat.SystemInstruction, want)
	}
}

func TestEnsureDisclaimer(t *testing.T) {
	plain := strings.Trim(chat.Disclaimer, "*")
	cases := []struct{ in, want string }{
		{"Réponse.", "Réponse.\n\n" + chat.Disclaimer},
		{"  Réponse.\n\n" + chat.Disclaimer, "Réponse.\n\n" + chat.Disclaimer},
		{"Réponse.\n\n" + plain, "Réponse.\n\n" + chat.Disclaimer},
		{"", chat.Disclaimer},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, chat.EnsureDisclaimer(tc.in))
	}
}

func TestCannedAnswersEndWithDisclaimer(t *testing.T) {
	assert.True(t, strings.HasSuffix(chat.NoRelevantDocumentsAnswer, chat.Disclaimer))
	assert.True(t, strings.HasSuffix(chat.GenerationFailedAnswer, chat.Disclaimer))
	assert.NotEqual(t, chat.NoRelevantDocumentsAnswer, chat.GenerationFailedAnswer)
}
