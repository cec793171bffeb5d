package database

import (
	"context"
	"strings"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.WorldFactRepository = (*pgWorldFactRepository)(nil)

const (
	listWorldFactsQuery = `
SELECT story_id, category, fact, created_at
FROM world_facts
WHERE story_id = $1
ORDER BY created_at, fact`
	insertWorldFactQuery = `
INSERT INTO world_facts (story_id, category, fact, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (story_id, fact) DO NOTHING`
)

type pgWorldFactRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgWorldFactRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.WorldFactRepository {
	return &pgWorldFactRepository{db: db, logger: logger.Named("PgWorldFactRepo")}
}

func (r *pgWorldFactRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.WorldFact, error) {
	facts := make([]models.WorldFact, 0)
	if err := pgxscan.Select(ctx, r.db, &facts, listWorldFactsQuery, storyID); err != nil {
		return nil, wrapDBError("list world facts", err)
	}
	return facts, nil
}

// AddMany inserts the facts in one batch; already known facts are skipped.
func (r *pgWorldFactRepository) AddMany(ctx context.Context, facts []models.WorldFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, f := range facts {
		fact := strings.TrimSpace(f.Fact)
		if fact == "" {
			continue
		}
		batch.Queue(insertWorldFactQuery, f.StoryID, f.Category, fact, now)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			r.logger.Error("Failed to insert world fact", zap.Int("index", i), zap.Error(err))
			return inserted, wrapDBError("insert world facts", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
