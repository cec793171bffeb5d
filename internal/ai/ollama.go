package ai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const providerOllama = "ollama"

// ollamaProvider реализует interfaces.Provider с использованием ollama/api
type ollamaProvider struct {
	client   *api.Client
	model    string
	timeouts Timeouts
	logger   *zap.Logger
}

var _ interfaces.Provider = (*ollamaProvider)(nil)

func newOllamaProvider(baseURL, model string, timeouts Timeouts, logger *zap.Logger) (*ollamaProvider, error) {
	timeouts = timeouts.withDefaults()

	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(baseURL, "/")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/v1")
	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}

	return &ollamaProvider{
		client:   api.NewClient(parsedURL, newHTTPClient(timeouts)),
		model:    model,
		timeouts: timeouts,
		logger:   logger.Named("OllamaProvider"),
	}, nil
}

func (p *ollamaProvider) chatRequest(systemPrompt, userPrompt string, params interfaces.GenerationParams, stream bool) *api.ChatRequest {
	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userPrompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: userPrompt})
	}
	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	return &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

func (p *ollamaProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", models.NewProviderError(providerOllama, models.ProviderErrorMalformed, 0, errors.New("system prompt is empty"))
	}
	reqCtx, cancel := context.WithTimeout(ctx, p.timeouts.Read)
	defer cancel()

	start := time.Now()
	var resp api.ChatResponse
	err := p.client.Chat(reqCtx, p.chatRequest(systemPrompt, userPrompt, params, false), func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		perr := p.classify(err)
		observeRequest(providerOllama, p.model, "complete", "error_"+string(perr.Kind), duration.Seconds())
		p.logger.Warn("Ollama chat failed", zap.Duration("duration", duration), zap.Error(perr))
		return "", perr
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		observeRequest(providerOllama, p.model, "complete", "error_empty", duration.Seconds())
		return "", models.NewProviderError(providerOllama, models.ProviderErrorEmpty, 0, errors.New("empty completion"))
	}

	observeRequest(providerOllama, p.model, "complete", "success", duration.Seconds())
	observeTokens(providerOllama, p.model, resp.PromptEvalCount, resp.EvalCount)
	return resp.Message.Content, nil
}

func (p *ollamaProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams, onChunk func(string) error) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return models.NewProviderError(providerOllama, models.ProviderErrorMalformed, 0, errors.New("system prompt is empty"))
	}
	reqCtx, cancel := context.WithTimeout(ctx, p.timeouts.Stream)
	defer cancel()

	start := time.Now()
	var (
		received         bool
		handlerErr       error
		promptTokens     int
		completionTokens int
	)
	err := p.client.Chat(reqCtx, p.chatRequest(systemPrompt, userPrompt, params, true), func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			received = true
			if onChunk != nil {
				if err := onChunk(resp.Message.Content); err != nil {
					handlerErr = err
					return err
				}
			}
		}
		if resp.Done {
			promptTokens = resp.PromptEvalCount
			completionTokens = resp.EvalCount
			if resp.DoneReason != "" && resp.DoneReason != "stop" {
				p.logger.Warn("Ollama stream finished with unexpected reason", zap.String("reason", resp.DoneReason))
			}
		}
		return nil
	})
	duration := time.Since(start)

	if handlerErr != nil {
		observeRequest(providerOllama, p.model, "stream", "aborted", duration.Seconds())
		return fmt.Errorf("stream chunk handler: %w", handlerErr)
	}
	if err != nil {
		perr := p.classify(err)
		observeRequest(providerOllama, p.model, "stream", "error_"+string(perr.Kind), duration.Seconds())
		return perr
	}
	if !received {
		observeRequest(providerOllama, p.model, "stream", "error_empty", duration.Seconds())
		return models.NewProviderError(providerOllama, models.ProviderErrorEmpty, 0, errors.New("stream produced no content"))
	}
	observeRequest(providerOllama, p.model, "stream", "success", duration.Seconds())
	observeTokens(providerOllama, p.model, promptTokens, completionTokens)
	return nil
}

func (p *ollamaProvider) classify(err error) *models.ProviderError {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return models.NewProviderError(providerOllama, models.ProviderErrorStatus, statusErr.StatusCode, err)
	}
	if perr := classifyTransport(providerOllama, err); perr != nil {
		return perr
	}
	return models.NewProviderError(providerOllama, models.ProviderErrorMalformed, 0, err)
}
