package database

import (
	"context"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var _ interfaces.ChronicleRepository = (*pgChronicleRepository)(nil)

const (
	listChronicleQuery = `
SELECT id, story_id, chapter_number, events, event_type, importance, created_at
FROM chronicle_events
WHERE story_id = $1
ORDER BY chapter_number, created_at`
	appendChronicleQuery = `
INSERT INTO chronicle_events (id, story_id, chapter_number, events, event_type, importance, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

type pgChronicleRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgChronicleRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.ChronicleRepository {
	return &pgChronicleRepository{db: db, logger: logger.Named("PgChronicleRepo")}
}

func (r *pgChronicleRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ChronicleEvent, error) {
	events := make([]models.ChronicleEvent, 0)
	if err := pgxscan.Select(ctx, r.db, &events, listChronicleQuery, storyID); err != nil {
		r.logger.Error("Failed to list chronicle", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, wrapDBError("list chronicle", err)
	}
	return events, nil
}

// Append adds a chronicle record. Records are never updated.
func (r *pgChronicleRepository) Append(ctx context.Context, e *models.ChronicleEvent) error {
	if e.ChapterNumber < 1 {
		return models.Validationf("chronicle chapter must be >= 1, got %d", e.ChapterNumber)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	events := e.Events
	if events == nil {
		events = []string{}
	}
	_, err := r.db.Exec(ctx, appendChronicleQuery,
		e.ID, e.StoryID, e.ChapterNumber, pq.Array(events), e.EventType, e.Importance, e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append chronicle event", zap.Stringer("storyID", e.StoryID), zap.Int("chapter", e.ChapterNumber), zap.Error(err))
		return wrapDBError("append chronicle", err)
	}
	return nil
}
