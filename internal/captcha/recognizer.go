// internal/captcha/recognizer.go
package captcha

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

// Recognizer turns a CAPTCHA image into text. Implementations may return
// any text, including an empty string; normalisation happens in the Solver.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, instruction string) (string, error)
}

// NewRecognizer builds the recognizer selected by cfg.Provider.
func NewRecognizer(ctx context.Context, cfg config.CaptchaConfig, logger *zap.Logger) (Recognizer, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiRecognizer(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIRecognizer(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported captcha provider: %s", cfg.Provider)
	}
}

// callPolicy paces and retries recognizer calls. Operations signal a
// non-retryable failure with backoff.Permanent.
type callPolicy struct {
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

func newCallPolicy(cfg config.CaptchaConfig) callPolicy {
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 20 * time.Second
	}
	return callPolicy{
		limiter: newLimiter(cfg.RequestsPerMinute),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// newLimiter converts a per-minute budget into a token bucket. A zero or
// negative budget disables throttling.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Max(1, math.Floor(perMinute/60)))
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

func (p callPolicy) run(ctx context.Context, op func(ctx context.Context) error) error {
	operation := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("waiting for recognizer rate limit: %w", err))
		}
		return op(ctx)
	}
	return backoff.Retry(operation, backoff.WithContext(p.newBackOff(), ctx))
}

// retryableStatus reports whether an HTTP status is worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
