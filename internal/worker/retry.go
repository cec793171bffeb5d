package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"novel-continuity/internal/models"

	"go.uber.org/zap"
)

// RetryConfig - параметры повторов.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Retryable reports whether err is worth another attempt: transient storage errors,
// provider transport failures, rate limiting and 5xx answers.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, models.ErrTransientIO) {
		return true
	}
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case models.ProviderErrorTransport, models.ProviderErrorEmpty:
			return true
		case models.ProviderErrorStatus:
			return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
		}
	}
	return false
}

// Backoff returns the delay before attempt+1: base*2^(attempt-1) with ±10% jitter,
// never below base and never above max (when set).
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	wait := time.Duration(delay)
	if wait < cfg.BaseDelay {
		wait = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}

// Retry calls op until it succeeds, returns a non-retryable error or attempts run out.
func Retry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}
		wait := Backoff(cfg, attempt)
		logger.Warn("Attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		retriesTotal.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
