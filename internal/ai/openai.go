package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerOpenAI = "openai"

// openAIProvider реализует interfaces.Provider через OpenAI-совместимый API (OpenRouter, DeepSeek, ...).
type openAIProvider struct {
	client   *openaigo.Client
	model    string
	timeouts Timeouts
	tokens   *TokenCounter
	logger   *zap.Logger
}

var _ interfaces.Provider = (*openAIProvider)(nil)

func newOpenAIProvider(apiKey, baseURL, model string, timeouts Timeouts, logger *zap.Logger) *openAIProvider {
	timeouts = timeouts.withDefaults()
	openaiConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		openaiConfig.BaseURL = baseURL
	}
	openaiConfig.HTTPClient = newHTTPClient(timeouts)
	return &openAIProvider{
		client:   openaigo.NewClientWithConfig(openaiConfig),
		model:    model,
		timeouts: timeouts,
		tokens:   NewTokenCounter(model),
		logger:   logger.Named("OpenAIProvider"),
	}
}

func (p *openAIProvider) messages(systemPrompt, userPrompt string) []openaigo.ChatCompletionMessage {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userPrompt})
	}
	return messages
}

func (p *openAIProvider) request(systemPrompt, userPrompt string, params interfaces.GenerationParams, stream bool) openaigo.ChatCompletionRequest {
	return openaigo.ChatCompletionRequest{
		Model:       p.model,
		Messages:    p.messages(systemPrompt, userPrompt),
		Stream:      stream,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	}
}

// Complete генерирует полный ответ без стриминга.
func (p *openAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", models.NewProviderError(providerOpenAI, models.ProviderErrorMalformed, 0, errors.New("system prompt is empty"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeouts.Read)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(reqCtx, p.request(systemPrompt, userPrompt, params, false))
	duration := time.Since(start)
	if err != nil {
		perr := p.classify(err)
		observeRequest(providerOpenAI, p.model, "complete", "error_"+string(perr.Kind), duration.Seconds())
		p.logger.Warn("Completion request failed", zap.Duration("duration", duration), zap.Error(perr))
		return "", perr
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		observeRequest(providerOpenAI, p.model, "complete", "error_empty", duration.Seconds())
		return "", models.NewProviderError(providerOpenAI, models.ProviderErrorEmpty, 0, errors.New("empty completion"))
	}

	observeRequest(providerOpenAI, p.model, "complete", "success", duration.Seconds())
	observeTokens(providerOpenAI, p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.logger.Debug("Completion received",
		zap.Duration("duration", duration),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Stream генерирует ответ в потоковом режиме, вызывая onChunk для каждого фрагмента.
func (p *openAIProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams, onChunk func(string) error) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return models.NewProviderError(providerOpenAI, models.ProviderErrorMalformed, 0, errors.New("system prompt is empty"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeouts.Stream)
	defer cancel()

	start := time.Now()
	stream, err := p.client.CreateChatCompletionStream(reqCtx, p.request(systemPrompt, userPrompt, params, true))
	if err != nil {
		perr := p.classify(err)
		observeRequest(providerOpenAI, p.model, "stream", "error_"+string(perr.Kind), time.Since(start).Seconds())
		return perr
	}
	defer stream.Close()

	var (
		received   bool
		usage      *openaigo.Usage
		completion strings.Builder
	)
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			perr := p.classify(err)
			observeRequest(providerOpenAI, p.model, "stream", "error_"+string(perr.Kind), time.Since(start).Seconds())
			return perr
		}
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = response.Usage
		}
		if len(response.Choices) == 0 {
			continue
		}
		chunk := response.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		received = true
		completion.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				observeRequest(providerOpenAI, p.model, "stream", "aborted", time.Since(start).Seconds())
				return fmt.Errorf("stream chunk handler: %w", err)
			}
		}
	}

	duration := time.Since(start)
	if !received {
		observeRequest(providerOpenAI, p.model, "stream", "error_empty", duration.Seconds())
		return models.NewProviderError(providerOpenAI, models.ProviderErrorEmpty, 0, errors.New("stream produced no content"))
	}
	observeRequest(providerOpenAI, p.model, "stream", "success", duration.Seconds())
	if usage != nil {
		observeTokens(providerOpenAI, p.model, usage.PromptTokens, usage.CompletionTokens)
	} else {
		// Usage не всегда приходит в конце стрима, оцениваем
		observeTokens(providerOpenAI, p.model, p.tokens.Count(systemPrompt)+p.tokens.Count(userPrompt), p.tokens.Count(completion.String()))
	}
	return nil
}

func (p *openAIProvider) classify(err error) *models.ProviderError {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return models.NewProviderError(providerOpenAI, models.ProviderErrorStatus, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return models.NewProviderError(providerOpenAI, models.ProviderErrorStatus, reqErr.HTTPStatusCode, err)
	}
	if perr := classifyTransport(providerOpenAI, err); perr != nil {
		return perr
	}
	return models.NewProviderError(providerOpenAI, models.ProviderErrorMalformed, 0, err)
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		// 0 опускается (omitempty) и API подставляет свое значение по умолчанию
		return 0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
