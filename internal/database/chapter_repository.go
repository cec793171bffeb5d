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

var _ interfaces.ChapterRepository = (*pgChapterRepository)(nil)

const (
	getChapterQuery = `
SELECT story_id, chapter_number, title, content, brief, updated_at
FROM chapters
WHERE story_id = $1 AND chapter_number = $2`
	saveChapterQuery = `
INSERT INTO chapters (story_id, chapter_number, title, content, brief, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (story_id, chapter_number) DO UPDATE SET
    title = EXCLUDED.title,
    content = EXCLUDED.content,
    brief = EXCLUDED.brief,
    updated_at = EXCLUDED.updated_at`
)

type pgChapterRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgChapterRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.ChapterRepository {
	return &pgChapterRepository{db: db, logger: logger.Named("PgChapterRepo")}
}

func (r *pgChapterRepository) Get(ctx context.Context, storyID uuid.UUID, chapter int) (*models.Chapter, error) {
	var ch models.Chapter
	if err := pgxscan.Get(ctx, r.db, &ch, getChapterQuery, storyID, chapter); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get chapter", zap.Stringer("storyID", storyID), zap.Int("chapter", chapter), zap.Error(err))
		return nil, wrapDBError("get chapter", err)
	}
	return &ch, nil
}

// Save overwrites the stored text; earlier versions are not kept.
func (r *pgChapterRepository) Save(ctx context.Context, ch *models.Chapter) error {
	if ch.ChapterNumber < 1 {
		return models.Validationf("chapter number must be >= 1, got %d", ch.ChapterNumber)
	}
	ch.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, saveChapterQuery, ch.StoryID, ch.ChapterNumber, ch.Title, ch.Content, ch.Brief, ch.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to save chapter", zap.Stringer("storyID", ch.StoryID), zap.Int("chapter", ch.ChapterNumber), zap.Error(err))
		return wrapDBError("save chapter", err)
	}
	return nil
}
