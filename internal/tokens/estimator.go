// Package tokens estimates prompt token counts for rate budgeting and
// result metadata.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/harrison/overseer/internal/logger"
)

// fallbackRatio approximates tokens as characters/4 when no encoding is
// available for the model.
const fallbackRatio = 4

// Estimator counts tokens with the model's tokenizer when one is known,
// falling back to cl100k_base and finally to a character heuristic.
type Estimator struct {
	model  string
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger logger.Logger
}

// New creates an Estimator for the named model. The logger may be nil.
func New(model string, log logger.Logger) *Estimator {
	return &Estimator{model: model, logger: logger.OrNop(log)}
}

// encoding resolves the tokenizer lazily; tiktoken loads encoding data on
// first use and the result is shared by all calls.
func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(e.model)
		if err == nil {
			e.enc = enc
			return
		}
		e.logger.Debugf("tokens: no encoding for model %q, trying cl100k_base", e.model)
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
			return
		}
		e.logger.Warnf("tokens: tokenizer unavailable, using character heuristic: %v", err)
	})
	return e.enc
}

// Estimate returns the token count for text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + fallbackRatio - 1) / fallbackRatio
}

// EstimateAll sums token counts over several texts.
func (e *Estimator) EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Estimate(t)
	}
	return total
}
