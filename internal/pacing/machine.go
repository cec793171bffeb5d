// Package pacing ведет историю по пятистадийному циклу повествования:
// обогащает бриф главы указаниями текущей стадии и переводит курсор дальше,
// когда оракул подтверждает, что цель стадии достигнута.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"
	"novel-continuity/internal/prompts"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds story defaults applied when progress is created lazily.
type Config struct {
	DefaultEnabled    bool
	ActivationChapter int
}

func DefaultConfig() Config {
	return Config{DefaultEnabled: true, ActivationChapter: 1}
}

// AdvanceResult reports the outcome of AdvanceIfComplete.
type AdvanceResult struct {
	Progress *models.PacingProgress `json:"progress"`
	Advanced bool                   `json:"advanced"`
	From     models.PacingStage     `json:"from"`
	To       models.PacingStage     `json:"to"`
	Analysis string                 `json:"analysis,omitempty"`
}

var enhanceTemperature = 0.7

// StateMachine is the per-story pacing cursor. It is the only writer of PacingProgress
// besides the rewrite rollback, which goes through the same locked repository update.
type StateMachine struct {
	repo      interfaces.PacingRepository
	provider  interfaces.Provider
	oracle    interfaces.CompletionOracle
	extractor *MotivationExtractor
	prompts   prompts.Prompts
	cfg       Config
	locks     *storyLocks
	logger    *zap.Logger
}

func NewStateMachine(
	repo interfaces.PacingRepository,
	provider interfaces.Provider,
	oracle interfaces.CompletionOracle,
	extractor *MotivationExtractor,
	p prompts.Prompts,
	cfg Config,
	logger *zap.Logger,
) *StateMachine {
	if cfg.ActivationChapter < 1 {
		cfg.ActivationChapter = 1
	}
	return &StateMachine{
		repo:      repo,
		provider:  provider,
		oracle:    oracle,
		extractor: extractor,
		prompts:   p,
		cfg:       cfg,
		locks:     newStoryLocks(),
		logger:    logger.Named("PacingStateMachine"),
	}
}

func (m *StateMachine) defaults(storyID uuid.UUID) func() *models.PacingProgress {
	return func() *models.PacingProgress {
		return models.NewPacingProgress(storyID, m.cfg.DefaultEnabled, m.cfg.ActivationChapter)
	}
}

// Progress returns the stored progress, or the defaults (not persisted) for a story without one.
func (m *StateMachine) Progress(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error) {
	p, err := m.repo.Get(ctx, storyID)
	if errors.Is(err, models.ErrNotFound) {
		return m.defaults(storyID)(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pacing progress: %w", err)
	}
	return p, nil
}

// Configure enables or disables pacing for a story and moves its activation chapter.
// A story that has not advanced yet also starts its first stage at the new activation chapter.
func (m *StateMachine) Configure(ctx context.Context, storyID uuid.UUID, enabled bool, activationChapter int) (*models.PacingProgress, error) {
	if activationChapter < 1 {
		return nil, models.Validationf("activation chapter must be >= 1, got %d", activationChapter)
	}
	unlock := m.locks.lock(storyID)
	defer unlock()

	return m.repo.Update(ctx, storyID, m.defaults(storyID), func(p *models.PacingProgress) error {
		p.Enabled = enabled
		p.ActivationChapter = activationChapter
		if p.LoopNumber == 1 && p.CurrentStage == models.StageMotivation && p.LastUpdatedChapter == 0 {
			p.StageStartChapter = activationChapter
		}
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// EnhanceBrief rewrites the brief for the active stage. It returns the original brief unchanged
// when pacing is off for the story, before the activation chapter, or on any provider or storage failure.
// Only invalid input is reported as an error.
func (m *StateMachine) EnhanceBrief(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (string, error) {
	if chapterNumber < 1 {
		return brief, models.Validationf("chapter number must be >= 1, got %d", chapterNumber)
	}
	log := m.logger.With(zap.String("storyID", storyID.String()), zap.Int("chapter", chapterNumber))

	unlock := m.locks.lock(storyID)
	defer unlock()

	progress, err := m.repo.Get(ctx, storyID)
	if errors.Is(err, models.ErrNotFound) {
		// лениво создаем прогресс при первом обращении
		progress, err = m.repo.Update(ctx, storyID, m.defaults(storyID), func(*models.PacingProgress) error { return nil })
	}
	if err != nil {
		log.Warn("Pacing progress unavailable, brief left unchanged", zap.Error(err))
		briefEnhancements.WithLabelValues("storage_error").Inc()
		return brief, nil
	}
	if !progress.Enabled || chapterNumber < progress.ActivationChapter {
		briefEnhancements.WithLabelValues("skipped").Inc()
		return brief, nil
	}

	if progress.CurrentStage == models.StageMotivation && (progress.Motivation == nil || progress.MotivationLoop != progress.LoopNumber) {
		if updated := m.refreshMotivation(ctx, log, progress, brief); updated != nil {
			progress = updated
		}
	}

	system := prompts.Render(m.prompts.EnhanceSystem, map[string]string{
		"STAGE":      string(progress.CurrentStage),
		"LOOP":       strconv.Itoa(progress.LoopNumber),
		"GUIDANCE":   m.prompts.Guidance(progress.CurrentStage),
		"MOTIVATION": describeMotivation(progress.Motivation),
	})
	enhanced, err := m.provider.Complete(ctx, system, brief, interfaces.GenerationParams{Temperature: &enhanceTemperature})
	if err != nil {
		log.Warn("Brief enhancement failed, using original brief", zap.Error(err))
		briefEnhancements.WithLabelValues("provider_error").Inc()
		return brief, nil
	}
	enhanced = strings.TrimSpace(enhanced)
	if enhanced == "" {
		briefEnhancements.WithLabelValues("provider_error").Inc()
		return brief, nil
	}

	briefEnhancements.WithLabelValues("enhanced").Inc()
	log.Debug("Brief enhanced", zap.String("stage", string(progress.CurrentStage)), zap.Int("loop", progress.LoopNumber))
	return enhanced, nil
}

// refreshMotivation extracts the motivation for the current loop and caches it in progress.
// Failures are logged and leave the cached value as is.
func (m *StateMachine) refreshMotivation(ctx context.Context, log *zap.Logger, progress *models.PacingProgress, brief string) *models.PacingProgress {
	if m.extractor == nil {
		return nil
	}
	analysis, err := m.extractor.Extract(ctx, brief)
	if err != nil {
		log.Info("Motivation not extracted", zap.Error(err))
		return nil
	}
	loop := progress.LoopNumber
	updated, err := m.repo.Update(ctx, progress.StoryID, m.defaults(progress.StoryID), func(p *models.PacingProgress) error {
		p.Motivation = analysis
		p.MotivationLoop = loop
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		log.Warn("Failed to store motivation", zap.Error(err))
		return nil
	}
	log.Info("Motivation recorded", zap.Int("loop", loop), zap.String("strength", string(analysis.Strength)))
	return updated
}

// AdvanceIfComplete asks the oracle whether the chapter brief fulfils the active stage.
// On a positive verdict the stage advances (loop+1 on the EARNING wrap) and the next stage starts at
// chapterNumber+1. A negative, unparseable or failed verdict leaves the stage as is.
// lastUpdatedChapter is set to chapterNumber in both cases.
// Stories with pacing disabled, chapters before activation and chapters older than the active stage
// (re-publication of already judged text) are returned untouched.
func (m *StateMachine) AdvanceIfComplete(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (*AdvanceResult, error) {
	if chapterNumber < 1 {
		return nil, models.Validationf("chapter number must be >= 1, got %d", chapterNumber)
	}
	log := m.logger.With(zap.String("storyID", storyID.String()), zap.Int("chapter", chapterNumber))

	unlock := m.locks.lock(storyID)
	defer unlock()

	current, err := m.Progress(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := current.Validate(); err != nil {
		return nil, err
	}
	res := &AdvanceResult{Progress: current, From: current.CurrentStage, To: current.CurrentStage}
	if !current.Enabled || chapterNumber < current.ActivationChapter {
		return res, nil
	}
	if chapterNumber < current.StageStartChapter {
		log.Debug("Chapter precedes active stage, verdict skipped",
			zap.String("stage", string(current.CurrentStage)),
			zap.Int("stageStartChapter", current.StageStartChapter),
		)
		return res, nil
	}

	stage := current.CurrentStage
	verdict, err := m.oracle.Judge(ctx, stage, brief)
	switch {
	case err != nil:
		log.Warn("Completion oracle failed, stage not advanced", zap.String("stage", string(stage)), zap.Error(err))
		oracleVerdicts.WithLabelValues(string(stage), "error").Inc()
		verdict = interfaces.StageVerdict{}
	case verdict.Complete:
		oracleVerdicts.WithLabelValues(string(stage), "complete").Inc()
	default:
		oracleVerdicts.WithLabelValues(string(stage), "incomplete").Inc()
	}

	updated, err := m.repo.Update(ctx, storyID, m.defaults(storyID), func(p *models.PacingProgress) error {
		p.LastUpdatedChapter = chapterNumber
		p.UpdatedAt = time.Now().UTC()
		if !verdict.Complete {
			return nil
		}
		if p.CurrentStage != stage {
			return models.Conflictf("pacing stage changed from %s to %s while judging chapter %d", stage, p.CurrentStage, chapterNumber)
		}
		next, wrapped, err := p.CurrentStage.Next()
		if err != nil {
			return err
		}
		if p.StageAnalysis == nil {
			p.StageAnalysis = make(map[models.PacingStage]string)
		}
		p.StageAnalysis[stage] = verdict.Analysis
		p.CurrentStage = next
		p.StageStartChapter = chapterNumber + 1
		if wrapped {
			p.LoopNumber++
		}
		return p.Validate()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pacing progress: %w", err)
	}

	res.Progress = updated
	res.To = updated.CurrentStage
	if verdict.Complete {
		res.Advanced = true
		res.Analysis = verdict.Analysis
		stageAdvances.WithLabelValues(string(stage), string(updated.CurrentStage)).Inc()
		log.Info("Pacing stage advanced",
			zap.String("from", string(stage)),
			zap.String("to", string(updated.CurrentStage)),
			zap.Int("loop", updated.LoopNumber),
		)
	}
	return res, nil
}
