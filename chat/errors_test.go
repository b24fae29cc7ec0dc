package chat_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabfab/aiact-explorer/chat"
)

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("handler: %w", &chat.Error{Kind: chat.KindEmbeddingUnavailable, Message: "embed question", Err: cause})

	assert.ErrorIs(t, err, chat.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, chat.ErrGenerationUnavailable)
	assert.Equal(t, chat.KindEmbeddingUnavailable, chat.KindOf(err))
	assert.Equal(t, chat.ErrorKind(""), chat.KindOf(cause))
	assert.Equal(t, "embedding_unavailable: embed question: dial tcp: refused", (&chat.Error{Kind: chat.KindEmbeddingUnavailable, Message: "embed question", Err: cause}).Error())
	assert.Equal(t, "invalid_query: question is required", (&chat.Error{Kind: chat.KindInvalidQuery, Message: "question is required"}).Error())
}
