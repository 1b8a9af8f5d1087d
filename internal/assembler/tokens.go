package assembler

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/policyqa/backend/pkg/logger"
)

type TokenEstimator interface {
	Count(text string) int
}

// RuneEstimator approximates one token per four runes, rounding up.
type RuneEstimator struct{}

func (RuneEstimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

type tiktokenEstimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func (e *tiktokenEstimator) Count(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}

// NewTokenEstimator uses the named tiktoken encoding and falls back to the
// rune estimate when the encoding cannot be loaded.
func NewTokenEstimator(encoding string) TokenEstimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("Tokenizer unavailable, using rune estimate",
			zap.String("encoding", encoding),
			zap.Error(err),
		)
		return RuneEstimator{}
	}
	return &tiktokenEstimator{enc: enc}
}
