package interfaces

import (
	"context"

	"novel-continuity/internal/models"

	"github.com/google/uuid"
)

// CharacterRepository stores character profiles.
//
//go:generate mockery --name CharacterRepository --output ../mocks --outpkg mocks --case=underscore
type CharacterRepository interface {
	// ListByStory returns all characters of a story in insertion order.
	// JSON sub-fields are returned undecoded.
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.CharacterRecord, error)
	// Upsert creates or updates a character by (story, name).
	Upsert(ctx context.Context, character *models.CharacterProfile) error
}

// ChronicleRepository is append-only per chapter.
type ChronicleRepository interface {
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ChronicleEvent, error)
	Append(ctx context.Context, event *models.ChronicleEvent) error
}

// ForeshadowingRepository stores planted hints.
type ForeshadowingRepository interface {
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ForeshadowingItem, error)
	Create(ctx context.Context, item *models.ForeshadowingItem) error
	// Resolve closes an open item. Returns models.ErrAlreadyResolved for a second call
	// and models.ErrNotFound for an unknown item.
	Resolve(ctx context.Context, storyID, itemID uuid.UUID, chapter int) error
}

// ChapterRepository keeps the latest text of each chapter.
type ChapterRepository interface {
	// Get returns models.ErrNotFound if the chapter was never stored.
	Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.Chapter, error)
	Save(ctx context.Context, chapter *models.Chapter) error
}

// SummaryRepository keeps one summary per (story, chapter).
type SummaryRepository interface {
	Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.ChapterSummary, error)
	Upsert(ctx context.Context, summary *models.ChapterSummary) error
	// Delete is a no-op for a missing row.
	Delete(ctx context.Context, storyID uuid.UUID, chapter int) error
	// ListRecent returns up to limit summaries with the highest chapter numbers, ascending.
	ListRecent(ctx context.Context, storyID uuid.UUID, limit int) ([]models.ChapterSummary, error)
}

// WorldFactRepository stores coarse world-setting facts.
type WorldFactRepository interface {
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.WorldFact, error)
	// AddMany inserts facts, skipping duplicates, and returns how many were new.
	AddMany(ctx context.Context, facts []models.WorldFact) (int, error)
}

// PacingRepository persists PacingProgress under a single-writer discipline.
type PacingRepository interface {
	// Get returns models.ErrNotFound if the story has no progress row yet.
	Get(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error)
	// Update locks the story's row (creating it from init when absent), applies fn and
	// persists the result in one transaction. If fn returns an error nothing is written.
	// A nil init, or init returning nil, makes Update return models.ErrNotFound for a missing row.
	Update(ctx context.Context, storyID uuid.UUID, init func() *models.PacingProgress, fn func(p *models.PacingProgress) error) (*models.PacingProgress, error)
}

// MemoryBankCache caches assembled memory banks.
type MemoryBankCache interface {
	Get(ctx context.Context, storyID uuid.UUID) (*models.MemoryBank, bool, error)
	Set(ctx context.Context, bank *models.MemoryBank) error
	Invalidate(ctx context.Context, storyID uuid.UUID) error
}
