package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"novel-continuity/internal/interfaces"
	"novel-continuity/pkg/taskmanager"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ taskmanager.Store = (*PgTaskStore)(nil)

const (
	saveTaskQuery = `
INSERT INTO generation_tasks (id, kind, target, status, progress, message, retry_count, params, result, error,
                              created_at, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    message = EXCLUDED.message,
    retry_count = EXCLUDED.retry_count,
    result = EXCLUDED.result,
    error = EXCLUDED.error,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at,
    updated_at = EXCLUDED.updated_at
WHERE generation_tasks.updated_at <= EXCLUDED.updated_at`
	deleteTasksQuery = `DELETE FROM generation_tasks WHERE id = ANY($1)`
	getTaskQuery     = `
SELECT id, kind, target, status, progress, message, retry_count, params, result, error,
       created_at, started_at, completed_at, updated_at
FROM generation_tasks
WHERE id = $1`
)

// PgTaskStore хранит снимки задач в generation_tasks, чтобы статус задачи
// можно было получить после перезапуска сервиса.
type PgTaskStore struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgTaskStore(db interfaces.DBTX, logger *zap.Logger) *PgTaskStore {
	return &PgTaskStore{db: db, logger: logger.Named("PgTaskStore")}
}

func (s *PgTaskStore) Save(ctx context.Context, t taskmanager.Task) error {
	params, err := marshalNullable(t.Params)
	if err != nil {
		return fmt.Errorf("marshal task params: %w", err)
	}
	result, err := marshalNullable(t.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	_, err = s.db.Exec(ctx, saveTaskQuery,
		t.ID, t.Kind, t.Target, string(t.Status), t.Progress, t.Message, t.RetryCount, params, result, t.Error,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to save task snapshot", zap.Stringer("taskID", t.ID), zap.String("status", string(t.Status)), zap.Error(err))
		return wrapDBError("save task", err)
	}
	return nil
}

func (s *PgTaskStore) Delete(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, deleteTasksQuery, ids); err != nil {
		return wrapDBError("delete tasks", err)
	}
	return nil
}

type taskRow struct {
	ID          uuid.UUID       `db:"id"`
	Kind        string          `db:"kind"`
	Target      string          `db:"target"`
	Status      string          `db:"status"`
	Progress    int             `db:"progress"`
	Message     string          `db:"message"`
	RetryCount  int             `db:"retry_count"`
	Params      json.RawMessage `db:"params"`
	Result      json.RawMessage `db:"result"`
	Error       string          `db:"error"`
	CreatedAt   time.Time       `db:"created_at"`
	StartedAt   *time.Time      `db:"started_at"`
	CompletedAt *time.Time      `db:"completed_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// Get loads a persisted snapshot. Params and Result come back as json.RawMessage.
func (s *PgTaskStore) Get(ctx context.Context, id uuid.UUID) (*taskmanager.Task, error) {
	var row taskRow
	if err := pgxscan.Get(ctx, s.db, &row, getTaskQuery, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, taskmanager.ErrTaskNotFound
		}
		return nil, wrapDBError("get task", err)
	}
	t := &taskmanager.Task{
		ID:          row.ID,
		Kind:        row.Kind,
		Target:      row.Target,
		Status:      taskmanager.TaskStatus(row.Status),
		Progress:    row.Progress,
		Message:     row.Message,
		RetryCount:  row.RetryCount,
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Params) > 0 {
		t.Params = row.Params
	}
	if len(row.Result) > 0 {
		t.Result = row.Result
	}
	return t, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
