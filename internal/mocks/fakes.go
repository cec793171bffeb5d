package mocks

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
)

// FakeProvider is a deterministic provider double driven by a function.
type FakeProvider struct {
	CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (f *FakeProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, _ interfaces.GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userPrompt)
	f.mu.Unlock()
	if f.CompleteFunc == nil {
		return "", models.NewProviderError("fake", models.ProviderErrorEmpty, 0, nil)
	}
	return f.CompleteFunc(ctx, systemPrompt, userPrompt)
}

// Stream delivers the Complete result word by word.
func (f *FakeProvider) Stream(ctx context.Context, systemPrompt, userPrompt string, params interfaces.GenerationParams, onChunk func(string) error) error {
	text, err := f.Complete(ctx, systemPrompt, userPrompt, params)
	if err != nil {
		return err
	}
	for _, w := range strings.SplitAfter(text, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(w); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the user prompts received so far.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var _ interfaces.Provider = (*FakeProvider)(nil)

// CriteriaOracle is the deterministic completion oracle: a stage is complete when the brief
// contains the marker registered for it (case-insensitive).
type CriteriaOracle struct {
	Markers map[models.PacingStage]string
	Err     error

	calls atomic.Int64
}

// AlwaysComplete returns an oracle that accepts every stage.
func AlwaysComplete() *CriteriaOracle {
	return &CriteriaOracle{Markers: map[models.PacingStage]string{
		models.StageMotivation:    "",
		models.StageBonus:         "",
		models.StageConfrontation: "",
		models.StageResponse:      "",
		models.StageEarning:       "",
	}}
}

func (o *CriteriaOracle) Judge(_ context.Context, stage models.PacingStage, brief string) (interfaces.StageVerdict, error) {
	o.calls.Add(1)
	if o.Err != nil {
		return interfaces.StageVerdict{}, o.Err
	}
	marker, ok := o.Markers[stage]
	if !ok {
		return interfaces.StageVerdict{Analysis: "no criterion for " + string(stage)}, nil
	}
	if strings.Contains(strings.ToLower(brief), strings.ToLower(marker)) {
		return interfaces.StageVerdict{Complete: true, Analysis: string(stage) + " goal met"}, nil
	}
	return interfaces.StageVerdict{Analysis: string(stage) + " goal not met"}, nil
}

// Calls returns how many verdicts were requested.
func (o *CriteriaOracle) Calls() int {
	return int(o.calls.Load())
}

var _ interfaces.CompletionOracle = (*CriteriaOracle)(nil)
