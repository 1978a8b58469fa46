// internal/tokens/estimator.go
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used for every model; exact per-provider counts are not needed for history budgeting.
const DefaultEncoding = "cl100k_base"

// Counter estimates the number of tokens in a text.
type Counter interface {
	Count(text string) int
}

// Estimator counts tokens with tiktoken. The encoding is loaded lazily on first use
// (it may be downloaded); if it cannot be loaded the estimator falls back to one token
// per three characters.
type Estimator struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

var _ Counter = (*Estimator)(nil)

// NewEstimator creates an estimator for the named tiktoken encoding.
func NewEstimator(encoding string, logger *zap.Logger) *Estimator {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Estimator{encoding: encoding, logger: logger.Named("token_estimator")}
}

func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			e.initErr = err
			e.logger.Warn("Tiktoken encoding unavailable; using character estimate.",
				zap.String("encoding", e.encoding), zap.Error(err))
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Count returns the estimated token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := e.init(); err != nil {
		return CharEstimate(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CharEstimate approximates tokens as characters/3, rounded up.
func CharEstimate(text string) int {
	return (utf8.RuneCountInString(text) + 2) / 3
}
