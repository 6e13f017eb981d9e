package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

var aiRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gema",
	Subsystem: "ai",
	Name:      "completion_retries_total",
	Help:      "Number of retried AI completion attempts",
})

// RetryConfig bounds attempts and backoff for RetryingGenerator.
type RetryConfig struct {
	MaxAttempts       int
	Timeout           time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	Logger            zerolog.Logger
}

// RetryingGenerator wraps a TextGenerator with a per-attempt timeout and
// capped exponential backoff on transient failures.
type RetryingGenerator struct {
	next   TextGenerator
	cfg    RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger
}

// NewRetryingGenerator applies defaults and wraps next.
func NewRetryingGenerator(next TextGenerator, cfg RetryConfig) *RetryingGenerator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &RetryingGenerator{
		next:   next,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logger.With().Str("component", "ai_retry").Logger(),
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (r *RetryingGenerator) Backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BackoffBase) * math.Pow(r.cfg.BackoffMultiplier, float64(attempt-1))
	if delay > float64(r.cfg.BackoffMax) {
		return r.cfg.BackoffMax
	}
	return time.Duration(delay)
}

// Complete retries transient failures up to MaxAttempts.
func (r *RetryingGenerator) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (Completion, error) {
	var last error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		completion, err := r.next.Complete(attemptCtx, messages, opts)
		cancel()
		if err == nil {
			return completion, nil
		}
		last = err

		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		if !IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.Backoff(attempt)
		aiRetries.Inc()
		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("completion failed, retrying")
		if err := r.sleep(ctx, delay); err != nil {
			return Completion{}, err
		}
	}
	return Completion{}, fmt.Errorf("completion failed: %w", last)
}

// IsRetryable reports timeouts, connection resets, HTTP 429 and HTTP 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
