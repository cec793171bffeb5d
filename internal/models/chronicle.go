package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a chronicle entry.
type EventType string

const (
	EventTypePlot      EventType = "plot"
	EventTypeCharacter EventType = "character"
	EventTypeWorld     EventType = "world"
	EventTypeConflict  EventType = "conflict"
)

// EventImportance is the coarse weight of an event.
type EventImportance string

const (
	ImportanceLow      EventImportance = "low"
	ImportanceMedium   EventImportance = "medium"
	ImportanceHigh     EventImportance = "high"
	ImportanceCritical EventImportance = "critical"
)

// ChronicleEvent - append-only record of what happened in a chapter.
type ChronicleEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	StoryID       uuid.UUID       `db:"story_id" json:"storyId"`
	ChapterNumber int             `db:"chapter_number" json:"chapterNumber"`
	Events        []string        `db:"events" json:"events"`
	EventType     EventType       `db:"event_type" json:"eventType"`
	Importance    EventImportance `db:"importance" json:"importance"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
