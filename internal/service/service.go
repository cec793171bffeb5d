// Package service - фасад движка непрерывности: сборка банка памяти, усиление брифов,
// темп повествования, публикация глав и фоновые задачи генерации.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/memory"
	"novel-continuity/internal/models"
	"novel-continuity/internal/pacing"
	"novel-continuity/internal/prompts"
	"novel-continuity/internal/summary"
	"novel-continuity/internal/worker"
	"novel-continuity/pkg/taskmanager"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps - зависимости ContinuityService.
type Deps struct {
	Assembler     *memory.Assembler
	Ranker        *memory.Ranker
	Compressor    *summary.Compressor
	Pacing        *pacing.StateMachine
	Tasks         *taskmanager.Manager
	Chapters      interfaces.ChapterRepository
	WorldFacts    interfaces.WorldFactRepository
	Foreshadowing interfaces.ForeshadowingRepository
	Provider      interfaces.Provider
	Prompts       prompts.Prompts
	Batch         *worker.BatchRunner
	Retry         worker.RetryConfig

	// TaskArchive - необязательное хранилище снимков задач, переживших перезапуск
	TaskArchive TaskArchive

	// InactiveThreshold - сколько глав без появления считается "давно не было"
	InactiveThreshold int
}

// TaskArchive отдает сохраненные снимки задач.
type TaskArchive interface {
	Get(ctx context.Context, id uuid.UUID) (*taskmanager.Task, error)
}

// ContinuityService объединяет компоненты движка за одним API для HTTP и консьюмера.
type ContinuityService struct {
	Deps
	logger *zap.Logger
}

func NewContinuityService(deps Deps, logger *zap.Logger) *ContinuityService {
	if deps.Ranker == nil {
		deps.Ranker = memory.NewRanker(memory.DefaultRankerConfig())
	}
	if deps.InactiveThreshold <= 0 {
		deps.InactiveThreshold = 30
	}
	s := &ContinuityService{Deps: deps, logger: logger.Named("ContinuityService")}
	if deps.Tasks != nil {
		observer := &taskObserver{}
		deps.Tasks.OnUpdate(observer.observe)
	}
	return s
}

// MemoryContext - банк памяти плюс готовый текст контекста для промпта.
type MemoryContext struct {
	Bank          *models.MemoryBank `json:"bank"`
	Context       string             `json:"context"`
	Inactive      []string           `json:"inactiveCharacters"`
	TopCharacters []string           `json:"topCharacters"`
}

// AssembleMemoryBank returns the story's memory bank.
func (s *ContinuityService) AssembleMemoryBank(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, error) {
	if storyID == uuid.Nil {
		return nil, models.Validationf("storyId is required")
	}
	return s.Assembler.Assemble(ctx, storyID)
}

// MemoryContext assembles the bank and renders it for the given chapter.
func (s *ContinuityService) MemoryContext(ctx context.Context, storyID uuid.UUID, currentChapter, maxCharacters int) (*MemoryContext, error) {
	if currentChapter < 1 {
		return nil, models.Validationf("chapter must be >= 1, got %d", currentChapter)
	}
	bank, err := s.AssembleMemoryBank(ctx, storyID)
	if err != nil {
		return nil, err
	}
	characters := make([]*models.CharacterProfile, 0, len(bank.Characters))
	for _, c := range bank.Characters {
		characters = append(characters, c)
	}
	sortByName(characters)

	ranked := s.Ranker.Rank(characters, currentChapter)
	top := make([]string, 0, len(ranked))
	for i, r := range ranked {
		if maxCharacters > 0 && i >= maxCharacters {
			break
		}
		top = append(top, r.Profile.Name)
	}
	return &MemoryContext{
		Bank:          bank,
		Context:       memory.FormatContext(bank, s.Ranker, currentChapter, maxCharacters),
		Inactive:      s.Ranker.FindInactive(characters, currentChapter, s.InactiveThreshold),
		TopCharacters: top,
	}, nil
}

// EnhanceBrief augments a chapter brief with pacing guidance. It never fails because of the provider.
func (s *ContinuityService) EnhanceBrief(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (string, error) {
	return s.Pacing.EnhanceBrief(ctx, storyID, chapterNumber, brief)
}

// AdvanceIfComplete asks the oracle whether the current stage is done and advances it.
func (s *ContinuityService) AdvanceIfComplete(ctx context.Context, storyID uuid.UUID, chapterNumber int, brief string) (*pacing.AdvanceResult, error) {
	return s.Pacing.AdvanceIfComplete(ctx, storyID, chapterNumber, brief)
}

func (s *ContinuityService) PacingProgress(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error) {
	return s.Pacing.Progress(ctx, storyID)
}

func (s *ContinuityService) ConfigurePacing(ctx context.Context, storyID uuid.UUID, enabled bool, activationChapter int) (*models.PacingProgress, error) {
	p, err := s.Pacing.Configure(ctx, storyID, enabled, activationChapter)
	if err != nil {
		return nil, err
	}
	s.Assembler.Invalidate(ctx, storyID)
	return p, nil
}

// ResolveForeshadowing marks a planted hint as paid off in the given chapter.
// Повторное разрешение и глава раньше посадки дают ErrConsistencyConflict.
func (s *ContinuityService) ResolveForeshadowing(ctx context.Context, storyID, itemID uuid.UUID, chapter int) error {
	if storyID == uuid.Nil || itemID == uuid.Nil {
		return models.Validationf("storyId and itemId are required")
	}
	if chapter < 1 {
		return models.Validationf("chapter must be >= 1, got %d", chapter)
	}
	if err := s.Foreshadowing.Resolve(ctx, storyID, itemID, chapter); err != nil {
		return err
	}
	s.Assembler.Invalidate(ctx, storyID)
	s.logger.Info("Foreshadowing resolved",
		zap.Stringer("storyID", storyID),
		zap.Stringer("itemID", itemID),
		zap.Int("chapter", chapter),
	)
	return nil
}

func sortByName(characters []*models.CharacterProfile) {
	sort.Slice(characters, func(i, j int) bool { return characters[i].Name < characters[j].Name })
}

// mapTaskError переводит ошибки менеджера задач в таксономию сервиса.
func mapTaskError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, taskmanager.ErrTaskNotFound):
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	case errors.Is(err, taskmanager.ErrTargetBusy),
		errors.Is(err, taskmanager.ErrInvalidTransition),
		errors.Is(err, taskmanager.ErrInvalidProgress):
		return fmt.Errorf("%w: %w", models.ErrConsistencyConflict, err)
	case errors.Is(err, taskmanager.ErrManagerClosed), errors.Is(err, taskmanager.ErrShutdownTimeout):
		return fmt.Errorf("%w: %w", models.ErrTransientIO, err)
	}
	return err
}
