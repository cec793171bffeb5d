package taskmanager

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Ошибки менеджера задач
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrInvalidProgress   = errors.New("progress must not decrease")
	ErrTargetBusy        = errors.New("target already has a task in flight")
	ErrTaskCancelled     = errors.New("task was cancelled")
	ErrManagerClosed     = errors.New("task manager is shutting down")
	ErrShutdownTimeout   = errors.New("timed out waiting for tasks, remaining tasks were force-cancelled")
)

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change (Retry of FAILED aside).
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the task holds its target.
func (s TaskStatus) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Task - снимок состояния асинхронной задачи. Менеджер отдает только копии.
type Task struct {
	ID          uuid.UUID   `json:"id"`
	Kind        string      `json:"kind"`
	Target      string      `json:"target,omitempty"`
	Status      TaskStatus  `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message,omitempty"`
	RetryCount  int         `json:"retryCount"`
	Params      interface{} `json:"params,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// TaskFunc представляет функцию, выполняемую в задаче.
// It should call ReportProgress between steps and stop when it returns ErrTaskCancelled.
type TaskFunc func(ctx context.Context, params interface{}) (interface{}, error)

// TaskCallback вызывается при каждом изменении статуса или прогресса задачи.
type TaskCallback func(task Task)

// Store persists task snapshots. Saves for one task arrive in transition order.
type Store interface {
	Save(ctx context.Context, task Task) error
	Delete(ctx context.Context, ids []uuid.UUID) error
}

type reporterKey struct{}

type reporter struct {
	m  *Manager
	id uuid.UUID
}

// ReportProgress updates the progress of the task running with ctx.
// It returns ErrTaskCancelled once the task has been cancelled; the caller should stop and
// its result will be discarded anyway. Outside a managed task it is a no-op.
func ReportProgress(ctx context.Context, percent int, note string) error {
	r, ok := ctx.Value(reporterKey{}).(*reporter)
	if !ok {
		return nil
	}
	if Cancelled(ctx) {
		return ErrTaskCancelled
	}
	err := r.m.UpdateProgress(r.id, percent, note)
	if errors.Is(err, ErrInvalidTransition) && Cancelled(ctx) {
		return ErrTaskCancelled
	}
	return err
}

// Cancelled reports whether the task running with ctx was cancelled or its context is done.
func Cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	r, ok := ctx.Value(reporterKey{}).(*reporter)
	if !ok {
		return false
	}
	t, err := r.m.Get(r.id)
	return err == nil && t.Status == StatusCancelled
}

// TaskID returns the id of the task running with ctx.
func TaskID(ctx context.Context) (uuid.UUID, bool) {
	r, ok := ctx.Value(reporterKey{}).(*reporter)
	if !ok {
		return uuid.Nil, false
	}
	return r.id, true
}
