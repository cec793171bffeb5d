package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"novel-continuity/internal/config"
	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewProvider создает провайдера генерации в зависимости от конфигурации.
// Every call goes through a shared rate limiter.
func NewProvider(cfg *config.Config, logger *zap.Logger) (interfaces.Provider, error) {
	timeouts := Timeouts{
		Connect: cfg.AIConnectTimeout,
		Read:    cfg.AIReadTimeout,
		Stream:  cfg.AIStreamTimeout,
	}

	var base interfaces.Provider
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		logger.Info("Using OpenAI-compatible provider", zap.String("baseURL", cfg.AIBaseURL), zap.String("model", cfg.AIModel))
		base = newOpenAIProvider(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, timeouts, logger)
	case "ollama":
		logger.Info("Using Ollama provider", zap.String("baseURL", cfg.AIBaseURL), zap.String("model", cfg.AIModel))
		p, err := newOllamaProvider(cfg.AIBaseURL, cfg.AIModel, timeouts, logger)
		if err != nil {
			return nil, err
		}
		base = p
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}

	return NewRateLimited(base, rate.NewLimiter(rate.Limit(cfg.AIRequestsPerSecond), cfg.AIRequestBurst)), nil
}

// RateLimited wraps a provider with a token-bucket limiter.
type RateLimited struct {
	next    interfaces.Provider
	limiter *rate.Limiter
}

var _ interfaces.Provider = (*RateLimited)(nil)

func NewRateLimited(next interfaces.Provider, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

func (r *RateLimited) wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return models.NewProviderError("ratelimit", models.ProviderErrorTransport, 0, err)
	}
	rateLimiterWait.Observe(time.Since(start).Seconds())
	return nil
}

func (r *RateLimited) Complete(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.next.Complete(ctx, systemPrompt, userPrompt, params)
}

func (r *RateLimited) Stream(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams, onChunk func(string) error) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.Stream(ctx, systemPrompt, userPrompt, params, onChunk)
}
