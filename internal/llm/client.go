package llm

import (
	"context"
	"errors"
)

// LLMClient is a text-in, text-out language model.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrTruncated means the model stopped at its token limit; the partial
	// reply is never returned since a cut-off tree document does not parse.
	ErrTruncated = errors.New("response truncated at token limit")
	// ErrEmptyResponse means the model returned no text.
	ErrEmptyResponse = errors.New("empty response")
)

// systemPrompt frames every request. Callers put the task in the prompt.
const systemPrompt = `You assist clinicians in turning guideline text into decision trees.
Answer with a single JSON value and no prose. Never invent variables, thresholds or
recommendations that the supplied text does not support.`

const defaultMaxTokens = 4096

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
