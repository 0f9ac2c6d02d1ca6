// Package tokenizer estimates prompt token counts for pre-flight
// credit checks. Estimates may run low; settlement reprices on the
// provider-reported actuals.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// cl100k_base is a close fit for OpenAI chat models and an acceptable
// approximation for Anthropic ones.
const encodingName = "cl100k_base"

// Estimator wraps a lazily initialized tiktoken encoder. The zero
// value is not usable; construct with New.
type Estimator struct {
	mu      sync.Mutex
	once    sync.Once
	encoder *tiktoken.Tiktoken
}

func New() *Estimator {
	return &Estimator{}
}

// Estimate returns the token count for text. When the encoder cannot
// be initialized (offline environments) it falls back to the
// characters/4 heuristic, floored at 1 so empty prompts still carry a
// nonzero cost estimate.
func (e *Estimator) Estimate(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			e.encoder = enc
		}
	})

	if e.encoder == nil {
		return approximate(text)
	}

	// The encoder is not documented as goroutine safe.
	e.mu.Lock()
	n := len(e.encoder.Encode(text, nil, nil))
	e.mu.Unlock()

	if n < 1 {
		return 1
	}
	return n
}

// EstimateAll sums estimates over several segments.
func (e *Estimator) EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Estimate(t)
	}
	return total
}

func approximate(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
