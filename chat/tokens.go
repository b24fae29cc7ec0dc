package chat

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a text costs the generator.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for model, falling back to the
// cl100k_base encoding for models tiktoken does not know (Ollama models).
// Encodings are fetched on first use, so callers should treat an error as
// "token accounting disabled" rather than fatal.
func NewTiktokenCounter(model string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding: %w", err)
		}
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountTokens sums the counter over every message of the prompt. A nil
// counter counts nothing.
func (p Prompt) CountTokens(counter TokenCounter) int {
	if counter == nil {
		return 0
	}
	total := counter.Count(p.System)
	for _, msg := range p.Messages {
		total += counter.Count(msg.Content)
	}
	return total
}
