package database

import (
	"context"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.SummaryRepository = (*pgSummaryRepository)(nil)

const (
	getSummaryQuery = `
SELECT story_id, chapter_number, summary, is_fallback, updated_at
FROM chapter_summaries
WHERE story_id = $1 AND chapter_number = $2`
	upsertSummaryQuery = `
INSERT INTO chapter_summaries (story_id, chapter_number, summary, is_fallback, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (story_id, chapter_number) DO UPDATE SET
    summary = EXCLUDED.summary,
    is_fallback = EXCLUDED.is_fallback,
    updated_at = EXCLUDED.updated_at`
	deleteSummaryQuery = `DELETE FROM chapter_summaries WHERE story_id = $1 AND chapter_number = $2`
	// последние N глав, но в порядке возрастания
	listRecentSummariesQuery = `
SELECT story_id, chapter_number, summary, is_fallback, updated_at
FROM (
    SELECT story_id, chapter_number, summary, is_fallback, updated_at
    FROM chapter_summaries
    WHERE story_id = $1
    ORDER BY chapter_number DESC
    LIMIT $2
) recent
ORDER BY chapter_number`
)

type pgSummaryRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgSummaryRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.SummaryRepository {
	return &pgSummaryRepository{db: db, logger: logger.Named("PgSummaryRepo")}
}

func (r *pgSummaryRepository) Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.ChapterSummary, error) {
	var s models.ChapterSummary
	if err := pgxscan.Get(ctx, r.db, &s, getSummaryQuery, storyID, chapter); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		return nil, wrapDBError("get summary", err)
	}
	return &s, nil
}

func (r *pgSummaryRepository) Upsert(ctx context.Context, s *models.ChapterSummary) error {
	s.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, upsertSummaryQuery, s.StoryID, s.ChapterNumber, s.Summary, s.IsFallback, s.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert summary", zap.Stringer("storyID", s.StoryID), zap.Int("chapter", s.ChapterNumber), zap.Error(err))
		return wrapDBError("upsert summary", err)
	}
	return nil
}

func (r *pgSummaryRepository) Delete(ctx context.Context, storyID uuid.UUID, chapter int) error {
	tag, err := r.db.Exec(ctx, deleteSummaryQuery, storyID, chapter)
	if err != nil {
		return wrapDBError("delete summary", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("No summary to delete", zap.Stringer("storyID", storyID), zap.Int("chapter", chapter))
	}
	return nil
}

func (r *pgSummaryRepository) ListRecent(ctx context.Context, storyID uuid.UUID, limit int) ([]models.ChapterSummary, error) {
	summaries := make([]models.ChapterSummary, 0)
	if limit <= 0 {
		return summaries, nil
	}
	if err := pgxscan.Select(ctx, r.db, &summaries, listRecentSummariesQuery, storyID, limit); err != nil {
		r.logger.Error("Failed to list recent summaries", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, wrapDBError("list summaries", err)
	}
	return summaries, nil
}
