package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates prompt sizes for logging and budget checks.
// It uses the cl100k_base tiktoken encoding when available and falls
// back to a bytes/4 heuristic when the encoding cannot be loaded,
// e.g. offline environments where the BPE data is not cached.
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator creates an estimator. Encoding initialization is
// deferred to first use.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

func (e *TokenEstimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		e.enc = enc
	})
}

// Estimate returns the approximate token count of text.
func (e *TokenEstimator) Estimate(text string) int {
	e.init()
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}
