package database

import (
	"context"
	"fmt"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ interfaces.ForeshadowingRepository = (*pgForeshadowingRepository)(nil)

const (
	foreshadowingColumns = `id, story_id, content, planted_chapter, resolved_chapter, status, type, priority, created_at, updated_at`

	listForeshadowingQuery = `
SELECT ` + foreshadowingColumns + `
FROM foreshadowing
WHERE story_id = $1
ORDER BY planted_chapter, created_at`
	createForeshadowingQuery = `
INSERT INTO foreshadowing (` + foreshadowingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	lockForeshadowingQuery = `
SELECT ` + foreshadowingColumns + `
FROM foreshadowing
WHERE story_id = $1 AND id = $2
FOR UPDATE`
	resolveForeshadowingQuery = `
UPDATE foreshadowing SET resolved_chapter = $2, status = $3, updated_at = $4
WHERE id = $1`
)

type pgForeshadowingRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgForeshadowingRepository needs a pool since Resolve runs in its own transaction.
func NewPgForeshadowingRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.ForeshadowingRepository {
	return &pgForeshadowingRepository{pool: pool, logger: logger.Named("PgForeshadowingRepo")}
}

func (r *pgForeshadowingRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.ForeshadowingItem, error) {
	items := make([]models.ForeshadowingItem, 0)
	if err := pgxscan.Select(ctx, r.pool, &items, listForeshadowingQuery, storyID); err != nil {
		r.logger.Error("Failed to list foreshadowing", zap.Stringer("storyID", storyID), zap.Error(err))
		return nil, wrapDBError("list foreshadowing", err)
	}
	return items, nil
}

func (r *pgForeshadowingRepository) Create(ctx context.Context, item *models.ForeshadowingItem) error {
	if item.Content == "" {
		return models.Validationf("foreshadowing content is required")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.ForeshadowingOpen
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	_, err := r.pool.Exec(ctx, createForeshadowingQuery,
		item.ID, item.StoryID, item.Content, item.PlantedChapter, item.ResolvedChapter,
		item.Status, item.Type, item.Priority, now)
	if err != nil {
		r.logger.Error("Failed to create foreshadowing", zap.Stringer("storyID", item.StoryID), zap.Error(err))
		return wrapDBError("create foreshadowing", err)
	}
	return nil
}

// Resolve locks the row, applies ForeshadowingItem.Resolve and writes the result.
func (r *pgForeshadowingRepository) Resolve(ctx context.Context, storyID, itemID uuid.UUID, chapter int) error {
	log := r.logger.With(zap.Stringer("storyID", storyID), zap.Stringer("itemID", itemID), zap.Int("chapter", chapter))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapDBError("begin resolve", err)
	}
	defer func() {
		// после Commit откат возвращает ErrTxClosed, это нормально
		_ = tx.Rollback(ctx)
	}()

	var item models.ForeshadowingItem
	if err := pgxscan.Get(ctx, tx, &item, lockForeshadowingQuery, storyID, itemID); err != nil {
		if pgxscan.NotFound(err) {
			return fmt.Errorf("foreshadowing %s: %w", itemID, models.ErrNotFound)
		}
		return wrapDBError("lock foreshadowing", err)
	}
	if err := item.Resolve(chapter); err != nil {
		log.Warn("Foreshadowing resolution rejected", zap.Error(err))
		return err
	}
	if _, err := tx.Exec(ctx, resolveForeshadowingQuery, itemID, item.ResolvedChapter, item.Status, time.Now().UTC()); err != nil {
		return wrapDBError("resolve foreshadowing", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapDBError("commit resolve", err)
	}
	log.Info("Foreshadowing resolved")
	return nil
}
