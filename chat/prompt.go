package chat

import (
	"strings"

	"github.com/fabfab/aiact-explorer/llm"
)

// MaxHistoryTurns is the number of most recent turns forwarded to the model.
const MaxHistoryTurns = 5

// Disclaimer closes every answer returned to a caller.
const Disclaimer = "*Avertissement : cette réponse est générée automatiquement à partir du Règlement (UE) 2024/1689 et des documents d'orientation disponibles. Elle est fournie à titre informatif et ne constitue pas un avis juridique. Référez-vous au texte officiel publié au Journal officiel de l'Union européenne ou consultez un professionnel du droit.*"

const (
	// NoRelevantDocumentsAnswer is returned when retrieval finds nothing above
	// the similarity threshold.
	NoRelevantDocumentsAnswer = "Aucun document pertinent n'a été trouvé dans les sources sélectionnées pour répondre à cette question. Essayez de reformuler votre question ou d'élargir les types de sources consultés.\n\n" + Disclaimer

	// GenerationFailedAnswer is returned when the model produced no usable text.
	GenerationFailedAnswer = "Je n'ai pas pu produire de réponse à cette question. Veuillez réessayer ou reformuler votre demande.\n\n" + Disclaimer
)

// SystemInstruction is sent as the first message of every generation request.
var SystemInstruction = strings.Join([]string{
	"Tu es un assistant juridique spécialisé dans le Règlement (UE) 2024/1689 sur l'intelligence artificielle (AI Act). Tu réponds en français, uniquement à partir des documents fournis dans le contexte.",
	"",
	"Citations :",
	"- Chaque affirmation juridique doit indiquer sa source : l'article du règlement (par exemple « Article 3, point 68 ») ou le paragraphe des lignes directrices concerné.",
	"- Ne cite jamais un article, un considérant ou une annexe qui n'apparaît pas dans le contexte. N'invente aucune référence.",
	"- Si le contexte ne permet pas de répondre, dis-le explicitement.",
	"",
	"Priorité des sources :",
	"- Le texte du règlement fait autorité pour les définitions et les obligations.",
	"- Les lignes directrices font autorité pour les questions d'application (« comment appliquer… »).",
	"- Lorsque les deux sont présents, cite d'abord le règlement puis utilise les lignes directrices pour préciser.",
	"",
	"Mise en forme :",
	"- Réponse structurée en paragraphes courts, avec des listes à puces ou numérotées lorsque c'est utile.",
	"- Mets en gras les termes juridiques définis et les références d'articles, avec parcimonie.",
	"- N'utilise jamais de tableaux.",
	"",
	"Termine toujours ta réponse par le paragraphe suivant, reproduit mot pour mot :",
	Disclaimer,
}, "\n")

// SourceMix describes which kinds of sources made it into the context.
type SourceMix int

const (
	MixRegulationOnly SourceMix = iota
	MixGuidelinesOnly
	MixBoth
)

func (m SourceMix) String() string {
	switch m {
	case MixRegulationOnly:
		return "regulation_only"
	case MixGuidelinesOnly:
		return "guidelines_only"
	default:
		return "both"
	}
}

// SelectSourceMix maps the assembler flags to an instruction variant. A
// context with neither regulation nor guidelines (case law only) uses the
// combined variant.
func SelectSourceMix(hasRegulation, hasGuidelines bool) SourceMix {
	switch {
	case hasRegulation && !hasGuidelines:
		return MixRegulationOnly
	case hasGuidelines && !hasRegulation:
		return MixGuidelinesOnly
	default:
		return MixBoth
	}
}

var mixInstructions = map[SourceMix]string{
	MixRegulationOnly: "Les documents ci-dessous proviennent uniquement du texte du règlement. Fonde ta réponse sur ces articles et cite-les précisément (numéro d'article, paragraphe, point).",
	MixGuidelinesOnly: "Les documents ci-dessous proviennent uniquement des lignes directrices de la Commission. Précise que ces documents sont interprétatifs et non contraignants, et cite les paragraphes utilisés.",
	MixBoth:           "Les documents ci-dessous contiennent à la fois le texte du règlement et des lignes directrices. Cite d'abord l'article du règlement applicable, puis utilise les lignes directrices pour expliquer son application concrète.",
}

// Instruction returns the fixed instruction block for the variant.
func (m SourceMix) Instruction() string {
	return mixInstructions[m]
}

// TruncateHistory returns the last MaxHistoryTurns turns in their original
// order. The input slice is never modified.
func TruncateHistory(history []Turn) []Turn {
	start := 0
	if len(history) > MaxHistoryTurns {
		start = len(history) - MaxHistoryTurns
	}
	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}

// Prompt is a fully built generation request.
type Prompt struct {
	System   string
	Mix      SourceMix
	Messages []llm.Message
}

// All returns the system instruction followed by the conversation messages.
func (p Prompt) All() []llm.Message {
	out := make([]llm.Message, 0, len(p.Messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: p.System})
	return append(out, p.Messages...)
}

// BuildPrompt merges truncated history, the instruction variant, the assembled
// context and the question. It is a pure function of its inputs.
func BuildPrompt(history []Turn, assembled AssembledContext, question string) Prompt {
	turns := TruncateHistory(history)
	mix := SelectSourceMix(assembled.HasRegulation, assembled.HasGuidelines)

	messages := make([]llm.Message, 0, 2*len(turns)+1)
	for _, turn := range turns {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatUserPrompt(mix, assembled.Text, question)})

	return Prompt{System: SystemInstruction, Mix: mix, Messages: messages}
}

func formatUserPrompt(mix SourceMix, context, question string) string {
	var sb strings.Builder
	sb.WriteString(mix.Instruction())
	sb.WriteString("\n\nContexte :\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion : ")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}

// EnsureDisclaimer trims the answer and appends the disclaimer unless the
// model already ended with it.
func EnsureDisclaimer(answer string) string {
	answer = strings.TrimSpace(answer)
	if strings.HasSuffix(answer, Disclaimer) {
		return answer
	}
	// Models sometimes drop the emphasis markers.
	plain := strings.Trim(Disclaimer, "*")
	if body := strings.TrimRight(answer, "*"); strings.HasSuffix(body, plain) {
		answer = strings.TrimRight(strings.TrimSuffix(body, plain), "* \n\t")
	}
	if answer == "" {
		return Disclaimer
	}
	return answer + "\n\n" + Disclaimer
}
