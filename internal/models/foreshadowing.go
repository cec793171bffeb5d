package models

import (
	"time"

	"github.com/google/uuid"
)

type ForeshadowingStatus string

const (
	ForeshadowingOpen     ForeshadowingStatus = "open"
	ForeshadowingResolved ForeshadowingStatus = "resolved"
)

// ForeshadowingItem - a planted hint that should eventually pay off.
type ForeshadowingItem struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	StoryID         uuid.UUID           `db:"story_id" json:"storyId"`
	Content         string              `db:"content" json:"content"`
	PlantedChapter  int                 `db:"planted_chapter" json:"plantedChapter"`
	ResolvedChapter *int                `db:"resolved_chapter" json:"resolvedChapter,omitempty"`
	Status          ForeshadowingStatus `db:"status" json:"status"`
	Type            string              `db:"type" json:"type"`
	Priority        int                 `db:"priority" json:"priority"`
	CreatedAt       time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updatedAt"`
}

// Resolve closes the item at the given chapter. An item resolves only once.
func (f *ForeshadowingItem) Resolve(chapter int) error {
	if f.Status == ForeshadowingResolved {
		return ErrAlreadyResolved
	}
	if chapter < f.PlantedChapter {
		return Conflictf("foreshadowing resolved at chapter %d before it was planted at %d", chapter, f.PlantedChapter)
	}
	resolved := chapter
	f.ResolvedChapter = &resolved
	f.Status = ForeshadowingResolved
	return nil
}
