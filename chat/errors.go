package chat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Callers branch on the kind, never
// on the message.
type ErrorKind string

const (
	KindInvalidQuery          ErrorKind = "invalid_query"
	KindEmbeddingUnavailable  ErrorKind = "embedding_unavailable"
	KindRetrievalUnavailable  ErrorKind = "retrieval_unavailable"
	KindGenerationUnavailable ErrorKind = "generation_unavailable"
	KindConfiguration         ErrorKind = "configuration"
)

// Error is the typed failure returned by Service. Message is safe to show to
// the caller for KindInvalidQuery; the other kinds carry internal detail in
// Err only.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidQuery)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidQuery          = &Error{Kind: KindInvalidQuery}
	ErrEmbeddingUnavailable  = &Error{Kind: KindEmbeddingUnavailable}
	ErrRetrievalUnavailable  = &Error{Kind: KindRetrievalUnavailable}
	ErrGenerationUnavailable = &Error{Kind: KindGenerationUnavailable}
	ErrConfiguration         = &Error{Kind: KindConfiguration}
)

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidQuery(format string, args ...any) error {
	return &Error{Kind: KindInvalidQuery, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind ErrorKind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}
