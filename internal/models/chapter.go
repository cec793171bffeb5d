package models

import (
	"time"

	"github.com/google/uuid"
)

// Chapter is the published text of a chapter. Only the latest version is kept.
type Chapter struct {
	StoryID       uuid.UUID `db:"story_id" json:"storyId"`
	ChapterNumber int       `db:"chapter_number" json:"chapterNumber"`
	Title         string    `db:"title" json:"title"`
	Content       string    `db:"content" json:"content"`
	Brief         string    `db:"brief" json:"brief"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// ChapterSummary - short fact digest, unique per (story, chapter).
type ChapterSummary struct {
	StoryID       uuid.UUID `db:"story_id" json:"storyId"`
	ChapterNumber int       `db:"chapter_number" json:"chapterNumber"`
	Summary       string    `db:"summary" json:"summary"`
	IsFallback    bool      `db:"is_fallback" json:"isFallback"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// WorldFact is a coarse world-setting statement kept for the memory bank.
type WorldFact struct {
	StoryID   uuid.UUID `db:"story_id" json:"storyId"`
	Category  string    `db:"category" json:"category"`
	Fact      string    `db:"fact" json:"fact"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
