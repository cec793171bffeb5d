package messaging

import (
	"time"

	"novel-continuity/internal/models"
	"novel-continuity/pkg/taskmanager"

	"github.com/google/uuid"
)

// TaskStatusEvent публикуется при каждом изменении статуса или прогресса задачи.
type TaskStatusEvent struct {
	TaskID      string     `json:"taskId"`
	Kind        string     `json:"kind"`
	Target      string     `json:"target,omitempty"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	RetryCount  int        `json:"retryCount"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTaskStatusEvent builds the event from a task snapshot. Params and results are not sent.
func NewTaskStatusEvent(t taskmanager.Task) TaskStatusEvent {
	return TaskStatusEvent{
		TaskID:      t.ID.String(),
		Kind:        t.Kind,
		Target:      t.Target,
		Status:      string(t.Status),
		Progress:    t.Progress,
		Message:     t.Message,
		RetryCount:  t.RetryCount,
		Error:       t.Error,
		CompletedAt: t.CompletedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// ChapterPublishedEvent приходит из сервиса публикации глав.
type ChapterPublishedEvent struct {
	StoryID       uuid.UUID `json:"storyId"`
	ChapterNumber int       `json:"chapterNumber"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Brief         string    `json:"brief"`
}

// Validate rejects events that can never be processed.
func (e ChapterPublishedEvent) Validate() error {
	if e.StoryID == uuid.Nil {
		return models.Validationf("storyId is required")
	}
	if e.ChapterNumber < 1 {
		return models.Validationf("chapterNumber must be >= 1, got %d", e.ChapterNumber)
	}
	if e.Content == "" {
		return models.Validationf("content is required")
	}
	return nil
}

// Chapter converts the event to the stored chapter.
func (e ChapterPublishedEvent) Chapter() models.Chapter {
	return models.Chapter{
		StoryID:       e.StoryID,
		ChapterNumber: e.ChapterNumber,
		Title:         e.Title,
		Content:       e.Content,
		Brief:         e.Brief,
	}
}
