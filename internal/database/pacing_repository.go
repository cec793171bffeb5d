package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var _ interfaces.PacingRepository = (*pgPacingRepository)(nil)

const (
	pacingColumns = `story_id, enabled, current_stage, loop_number, stage_start_chapter, activation_chapter,
       last_updated_chapter, stage_analysis, motivation, motivation_loop, updated_at`

	getPacingQuery = `SELECT ` + pacingColumns + ` FROM pacing_progress WHERE story_id = $1`
	// Блокировка строки на время транзакции: единственный писатель на историю
	lockPacingQuery   = `SELECT ` + pacingColumns + ` FROM pacing_progress WHERE story_id = $1 FOR UPDATE`
	insertPacingQuery = `
INSERT INTO pacing_progress (` + pacingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (story_id) DO NOTHING`
	updatePacingQuery = `
UPDATE pacing_progress SET
    enabled = $2,
    current_stage = $3,
    loop_number = $4,
    stage_start_chapter = $5,
    activation_chapter = $6,
    last_updated_chapter = $7,
    stage_analysis = $8,
    motivation = $9,
    motivation_loop = $10,
    updated_at = $11
WHERE story_id = $1`
)

type pgPacingRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgPacingRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.PacingRepository {
	return &pgPacingRepository{pool: pool, logger: logger.Named("PgPacingRepo")}
}

func (r *pgPacingRepository) Get(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error) {
	p, err := scanPacing(r.pool.QueryRow(ctx, getPacingQuery, storyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, wrapDBError("get pacing progress", err)
	}
	return p, nil
}

// Update is the only write path for pacing progress: SELECT ... FOR UPDATE, fn, UPDATE, COMMIT.
func (r *pgPacingRepository) Update(
	ctx context.Context,
	storyID uuid.UUID,
	init func() *models.PacingProgress,
	fn func(p *models.PacingProgress) error,
) (*models.PacingProgress, error) {
	log := r.logger.With(zap.Stringer("storyID", storyID))

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, wrapDBError("begin pacing tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPacing(tx.QueryRow(ctx, lockPacingQuery, storyID))
	if errors.Is(err, pgx.ErrNoRows) {
		var fresh *models.PacingProgress
		if init != nil {
			fresh = init()
		}
		if fresh == nil {
			return nil, models.ErrNotFound
		}
		fresh.StoryID = storyID
		if err := execPacing(ctx, tx, insertPacingQuery, fresh); err != nil {
			return nil, wrapDBError("insert pacing progress", err)
		}
		// строка могла появиться параллельно; блокируем то, что реально лежит в таблице
		p, err = scanPacing(tx.QueryRow(ctx, lockPacingQuery, storyID))
		if err == nil {
			log.Info("Pacing progress row created", zap.String("stage", string(p.CurrentStage)))
		}
	}
	if err != nil {
		return nil, wrapDBError("lock pacing progress", err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	p.StoryID = storyID
	p.UpdatedAt = time.Now().UTC()
	if err := execPacing(ctx, tx, updatePacingQuery, p); err != nil {
		log.Error("Failed to write pacing progress", zap.Error(err))
		return nil, wrapDBError("update pacing progress", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDBError("commit pacing tx", err)
	}
	return p, nil
}

func execPacing(ctx context.Context, tx pgx.Tx, query string, p *models.PacingProgress) error {
	analysis := p.StageAnalysis
	if analysis == nil {
		analysis = map[models.PacingStage]string{}
	}
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal stage analysis: %w", err)
	}
	var motivationJSON []byte
	if p.Motivation != nil {
		if motivationJSON, err = json.Marshal(p.Motivation); err != nil {
			return fmt.Errorf("marshal motivation: %w", err)
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, query,
		p.StoryID, p.Enabled, p.CurrentStage, p.LoopNumber, p.StageStartChapter, p.ActivationChapter,
		p.LastUpdatedChapter, analysisJSON, motivationJSON, p.MotivationLoop, p.UpdatedAt)
	return err
}

func scanPacing(row pgx.Row) (*models.PacingProgress, error) {
	var p models.PacingProgress
	var analysisJSON, motivationJSON []byte
	if err := row.Scan(
		&p.StoryID,
		&p.Enabled,
		&p.CurrentStage,
		&p.LoopNumber,
		&p.StageStartChapter,
		&p.ActivationChapter,
		&p.LastUpdatedChapter,
		&analysisJSON,
		&motivationJSON,
		&p.MotivationLoop,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.StageAnalysis = map[models.PacingStage]string{}
	if len(analysisJSON) > 0 {
		if err := json.Unmarshal(analysisJSON, &p.StageAnalysis); err != nil {
			return nil, fmt.Errorf("%w: corrupt stage analysis: %v", models.ErrConsistencyConflict, err)
		}
	}
	if len(motivationJSON) > 0 {
		var m models.MotivationAnalysis
		if err := json.Unmarshal(motivationJSON, &m); err != nil {
			return nil, fmt.Errorf("%w: corrupt motivation: %v", models.ErrConsistencyConflict, err)
		}
		p.Motivation = &m
	}
	return &p, nil
}
