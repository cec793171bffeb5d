package interfaces

import (
	"context"

	"novel-continuity/internal/models"
)

// GenerationParams are optional sampling parameters. nil means provider default.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Provider is the text generation backend.
// Errors are *models.ProviderError (errors.Is(err, models.ErrProvider)).
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error)
	// Stream calls onChunk zero or more times and returns once the provider signals completion.
	// An error from onChunk aborts the stream.
	Stream(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams, onChunk func(chunk string) error) error
}

// StageVerdict is the completion oracle's answer for one stage.
type StageVerdict struct {
	Complete bool
	Analysis string
}

// CompletionOracle judges whether the active pacing stage's goal is met by a chapter brief.
// Any error must be treated by callers as "not complete".
type CompletionOracle interface {
	Judge(ctx context.Context, stage models.PacingStage, brief string) (StageVerdict, error)
}
