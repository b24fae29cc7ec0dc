package chat

import "github.com/fabfab/aiact-explorer/corpus"

// Turn is one earlier question/answer exchange supplied by the caller.
type Turn struct {
	Question string
	Answer   string
}

type Request struct {
	Question    string
	SourceTypes []string
	History     []Turn
}

type Document struct {
	Content         string
	Source          string
	SourceType      corpus.SourceType
	ArticleNumber   string
	Category        string
	Score           float64
	RelatedArticles []string
}

type Response struct {
	Answer    string
	Documents []Document
}

// Config tunes retrieval for a Service. A nil Threshold or a zero MaxResults
// falls back to the corpus defaults. A set Threshold is used as given, zero
// and negative values included.
type Config struct {
	Threshold  *float64
	MaxResults int
	Tokens     TokenCounter
}
