// Package tokenizer counts tokens with tiktoken for the token budget step.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hupe1980/agentctx/flow"
)

// FallbackEncoding is used for models tiktoken does not know.
const FallbackEncoding = "cl100k_base"

// Tokenizer counts tokens of a model's encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New selects the encoding for model (e.g. "gpt-4o"), falling back to
// cl100k_base. Encodings are fetched and cached by tiktoken on first use.
func New(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(FallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimator adapts Count for flow.Options.Estimator.
func (t *Tokenizer) Estimator() flow.TokenEstimator {
	return t.Count
}
