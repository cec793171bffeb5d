package taskmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultWorkers   = 10
	storeSaveTimeout = 5 * time.Second
	forcedStopWait   = 5 * time.Second
)

// Config содержит конфигурацию для Manager
type Config struct {
	// Workers - размер пула, одновременно выполняющих задачи горутин
	Workers int
	// Guard - флаг занятости цели; по умолчанию LocalGuard
	Guard TargetGuard
	// Store - необязательное хранилище снимков задач
	Store Store
}

type entry struct {
	task      Task
	fn        TaskFunc
	cancel    context.CancelFunc
	logger    zerolog.Logger
	callbacks []TaskCallback
	// retrying - Retry заявлен и ждет флага цели
	retrying  bool
}

// Manager - оркестратор задач генерации: машина состояний задачи, флаг занятости цели,
// ограниченный пул исполнителей и корректная остановка.
type Manager struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*entry
	listeners []TaskCallback
	guard     TargetGuard
	store     Store
	sem       chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	events       *eventQueue
	dispatcherWG sync.WaitGroup
}

// New создает новый экземпляр Manager
func New(cfg Config) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	guard := cfg.Guard
	if guard == nil {
		guard = NewLocalGuard()
	}
	m := &Manager{
		tasks:   make(map[uuid.UUID]*entry),
		guard:   guard,
		store:   cfg.Store,
		sem:     make(chan struct{}, workers),
		closing: make(chan struct{}),
		events:  newEventQueue(),
	}
	m.dispatcherWG.Add(1)
	go m.dispatch()
	return m
}

// OnUpdate регистрирует слушателя всех изменений задач.
func (m *Manager) OnUpdate(cb TaskCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, cb)
}

// RegisterCallback регистрирует функцию обратного вызова для задачи
func (m *Manager) RegisterCallback(taskID uuid.UUID, cb TaskCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	e.callbacks = append(e.callbacks, cb)
	return nil
}

// Submit создает задачу в статусе PENDING. A non-empty target is flagged until the task
// reaches a terminal status; a second submission for a flagged target fails with ErrTargetBusy.
func (m *Manager) Submit(ctx context.Context, kind, target string, params interface{}) (uuid.UUID, error) {
	return m.submit(ctx, kind, target, params, nil)
}

// Go submits a task and runs fn on the worker pool.
func (m *Manager) Go(ctx context.Context, kind, target string, params interface{}, fn TaskFunc) (uuid.UUID, error) {
	return m.submit(ctx, kind, target, params, fn)
}

func (m *Manager) submit(ctx context.Context, kind, target string, params interface{}, fn TaskFunc) (uuid.UUID, error) {
	select {
	case <-m.closing:
		return uuid.Nil, ErrManagerClosed
	default:
	}

	taskID := uuid.New()
	if target != "" {
		ok, err := m.guard.Acquire(ctx, target, taskID.String())
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to acquire target %q: %w", target, err)
		}
		if !ok {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrTargetBusy, target)
		}
	}

	now := time.Now().UTC()
	e := &entry{
		task: Task{
			ID:        taskID,
			Kind:      kind,
			Target:    target,
			Status:    StatusPending,
			Params:    params,
			CreatedAt: now,
			UpdatedAt: now,
		},
		fn:     fn,
		logger: log.Ctx(ctx).With().Str("taskID", taskID.String()).Str("kind", kind).Logger(),
	}

	m.mu.Lock()
	m.tasks[taskID] = e
	m.emitLocked(e)
	m.mu.Unlock()

	e.logger.Info().Str("target", target).Msg("Задача создана")
	if fn != nil {
		m.schedule(taskID)
	}
	return taskID, nil
}

// Start переводит задачу из PENDING в RUNNING.
func (m *Manager) Start(taskID uuid.UUID) error {
	return m.transition(taskID, func(e *entry, now time.Time) error {
		if e.task.Status != StatusPending {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, e.task.Status)
		}
		e.task.Status = StatusRunning
		e.task.Progress = 0
		e.task.StartedAt = &now
		e.task.Message = "Задача запущена"
		return nil
	})
}

// UpdateProgress записывает прогресс выполняющейся задачи. percent is clamped to 0..100
// and must not be lower than the recorded value.
func (m *Manager) UpdateProgress(taskID uuid.UUID, percent int, note string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return m.transition(taskID, func(e *entry, _ time.Time) error {
		if e.task.Status != StatusRunning {
			return fmt.Errorf("%w: progress update in %s", ErrInvalidTransition, e.task.Status)
		}
		if percent < e.task.Progress {
			return fmt.Errorf("%w: %d < %d", ErrInvalidProgress, percent, e.task.Progress)
		}
		e.task.Progress = percent
		if note != "" {
			e.task.Message = note
		}
		return nil
	})
}

// Complete завершает выполняющуюся задачу с результатом.
func (m *Manager) Complete(taskID uuid.UUID, result interface{}) error {
	return m.transition(taskID, func(e *entry, now time.Time) error {
		if e.task.Status != StatusRunning {
			return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, e.task.Status)
		}
		e.task.Status = StatusCompleted
		e.task.Progress = 100
		e.task.Result = result
		e.task.CompletedAt = &now
		e.task.Message = "Задача успешно выполнена"
		return nil
	})
}

// Fail переводит выполняющуюся задачу в FAILED.
func (m *Manager) Fail(taskID uuid.UUID, errorMessage string) error {
	return m.transition(taskID, func(e *entry, now time.Time) error {
		if e.task.Status != StatusRunning {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, e.task.Status)
		}
		e.task.Status = StatusFailed
		e.task.Error = errorMessage
		e.task.CompletedAt = &now
		e.task.Message = "Задача завершилась с ошибкой"
		return nil
	})
}

// Cancel отменяет задачу в статусе PENDING или RUNNING. Cancellation is cooperative:
// a running function keeps its context and is expected to notice via ReportProgress or Cancelled;
// whatever it returns afterwards is discarded.
func (m *Manager) Cancel(taskID uuid.UUID) error {
	return m.transition(taskID, func(e *entry, now time.Time) error {
		if !e.task.Status.Active() {
			return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, e.task.Status)
		}
		e.task.Status = StatusCancelled
		e.task.CompletedAt = &now
		e.task.Message = "Задача отменена пользователем"
		return nil
	})
}

// Retry возвращает задачу из FAILED в PENDING и увеличивает счетчик повторов.
// The target is flagged again; a task created with Go is rescheduled.
// Concurrent retries of one task are serialized: the retry is claimed under the lock before
// the target is acquired, so only the winner ever touches the flag.
func (m *Manager) Retry(ctx context.Context, taskID uuid.UUID) error {
	select {
	case <-m.closing:
		return ErrManagerClosed
	default:
	}

	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if e.task.Status != StatusFailed {
		status := e.task.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, status)
	}
	if e.retrying {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry already in progress", ErrInvalidTransition)
	}
	e.retrying = true
	target := e.task.Target
	m.mu.Unlock()

	unclaim := func() {
		m.mu.Lock()
		e.retrying = false
		m.mu.Unlock()
	}

	if target != "" {
		acquired, err := m.guard.Acquire(ctx, target, taskID.String())
		if err != nil {
			unclaim()
			return fmt.Errorf("failed to acquire target %q: %w", target, err)
		}
		if !acquired {
			unclaim()
			return fmt.Errorf("%w: %s", ErrTargetBusy, target)
		}
	}

	// задача заявлена этим вызовом: статус FAILED не меняется, CleanupTasks ее не трогает
	var runnable bool
	err := m.transition(taskID, func(e *entry, _ time.Time) error {
		e.retrying = false
		e.task.Status = StatusPending
		e.task.RetryCount++
		e.task.Progress = 0
		e.task.Error = ""
		e.task.Result = nil
		e.task.StartedAt = nil
		e.task.CompletedAt = nil
		e.task.Message = fmt.Sprintf("Повтор #%d", e.task.RetryCount)
		runnable = e.fn != nil
		return nil
	})
	if err != nil {
		if target != "" {
			m.releaseTarget(taskID, target)
		}
		return err
	}
	if runnable {
		m.schedule(taskID)
	}
	return nil
}

// transition applies fn to the task under the lock, emits the new snapshot and frees the
// target once the task is terminal.
func (m *Manager) transition(taskID uuid.UUID, fn func(e *entry, now time.Time) error) error {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	before := e.task.Status
	now := time.Now().UTC()
	if err := fn(e, now); err != nil {
		m.mu.Unlock()
		return err
	}
	e.task.UpdatedAt = now
	snapshot := e.task
	m.emitLocked(e)
	m.mu.Unlock()

	if snapshot.Status != before {
		e.logger.Info().
			Str("from", string(before)).
			Str("to", string(snapshot.Status)).
			Int("progress", snapshot.Progress).
			Msg("Статус задачи обновлен")
	}
	if snapshot.Status.Terminal() && snapshot.Target != "" {
		m.releaseTarget(taskID, snapshot.Target)
	}
	return nil
}

func (m *Manager) releaseTarget(taskID uuid.UUID, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeSaveTimeout)
	defer cancel()
	if err := m.guard.Release(ctx, target, taskID.String()); err != nil {
		log.Error().Err(err).Str("taskID", taskID.String()).Str("target", target).Msg("Не удалось снять флаг цели")
	}
}

// schedule runs the task function on the pool. Duplicate schedules are harmless:
// only one of them wins the PENDING -> RUNNING transition.
func (m *Manager) schedule(taskID uuid.UUID) {
	m.mu.RLock()
	e, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		stop := m.keepTarget(taskID, e)
		defer stop()

		select {
		case m.sem <- struct{}{}:
		case <-m.closing:
			if err := m.cancelPending(taskID, "Задача отменена при остановке"); err == nil {
				e.logger.Info().Msg("Задача не запущена: менеджер останавливается")
			}
			return
		}
		defer func() { <-m.sem }()

		m.runTask(taskID, e)
	}()
}

// keepTarget refreshes the target flag of a queued or running task until stop is called.
// A no-op for guards without expiry and for tasks without a target.
func (m *Manager) keepTarget(taskID uuid.UUID, e *entry) (stop func()) {
	refresher, ok := m.guard.(TargetRefresher)
	m.mu.RLock()
	target := e.task.Target
	m.mu.RUnlock()
	if !ok || target == "" || refresher.TTL() <= 0 {
		return func() {}
	}
	interval := refresher.TTL() / 3
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if t, err := m.Get(taskID); err != nil || !t.Status.Active() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), storeSaveTimeout)
			held, err := refresher.Refresh(ctx, target, taskID.String())
			cancel()
			switch {
			case err != nil:
				e.logger.Warn().Err(err).Str("target", target).Msg("Не удалось продлить флаг цели")
			case !held:
				e.logger.Error().Str("target", target).Msg("Флаг цели потерян")
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (m *Manager) cancelPending(taskID uuid.UUID, message string) error {
	return m.transition(taskID, func(e *entry, now time.Time) error {
		if e.task.Status != StatusPending {
			return fmt.Errorf("%w: not pending", ErrInvalidTransition)
		}
		e.task.Status = StatusCancelled
		e.task.CompletedAt = &now
		e.task.Message = message
		return nil
	})
}

// runTask выполняет задачу и обновляет ее статус
func (m *Manager) runTask(taskID uuid.UUID, e *entry) {
	if err := m.Start(taskID); err != nil {
		// отменена, пока ждала исполнителя, или уже запущена другим исполнителем
		e.logger.Info().Err(err).Msg("Задача не запущена")
		return
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	ctx := e.logger.WithContext(context.WithValue(baseCtx, reporterKey{}, &reporter{m: m, id: taskID}))
	m.mu.Lock()
	e.cancel = cancel
	params := e.task.Params
	target := e.task.Target
	m.mu.Unlock()

	defer cancel()
	// флаг цели снимается при любом исходе, в том числе при панике
	defer func() {
		if target != "" {
			if t, err := m.Get(taskID); err == nil && !t.Status.Active() {
				m.releaseTarget(taskID, target)
			}
		}
	}()

	result, err := m.call(ctx, e, params)

	if t, getErr := m.Get(taskID); getErr == nil && t.Status == StatusCancelled {
		e.logger.Info().Msg("Задача была отменена, результат отброшен")
		return
	}
	if ctx.Err() != nil {
		e.logger.Warn().Err(ctx.Err()).Msg("Контекст задачи был отменен")
		_ = m.Cancel(taskID)
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("Задача завершилась с ошибкой")
		_ = m.Fail(taskID, err.Error())
		return
	}
	if err := m.Complete(taskID, result); err != nil {
		e.logger.Warn().Err(err).Msg("Не удалось завершить задачу")
	}
}

func (m *Manager) call(ctx context.Context, e *entry, params interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Паника в задаче")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(ctx, params)
}

// Get возвращает снимок задачи по ID
func (m *Manager) Get(taskID uuid.UUID) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return e.task, nil
}

// List возвращает задачи (optionally of one kind), oldest first.
func (m *Manager) List(kind string) []Task {
	m.mu.RLock()
	out := make([]Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		if kind == "" || e.task.Kind == kind {
			out = append(out, e.task)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (m *Manager) CleanupTasks(ctx context.Context, age time.Duration) int {
	m.mu.Lock()
	now := time.Now().UTC()
	var removed []uuid.UUID
	for id, e := range m.tasks {
		if e.task.Status.Terminal() && !e.retrying && now.Sub(e.task.UpdatedAt) > age {
			delete(m.tasks, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 && m.store != nil {
		if err := m.store.Delete(ctx, removed); err != nil {
			log.Ctx(ctx).Error().Err(err).Int("count", len(removed)).Msg("Не удалось удалить задачи из хранилища")
		}
	}
	return len(removed)
}

// Shutdown stops accepting tasks, cancels those still waiting for a worker and waits for running
// ones until ctx is done. After that remaining task contexts are cancelled and ErrShutdownTimeout
// is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.closing) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		log.Ctx(ctx).Warn().Msg("Таймаут при ожидании завершения задач, принудительная отмена")
		m.mu.Lock()
		for _, e := range m.tasks {
			if e.task.Status.Active() && e.cancel != nil {
				e.cancel()
			}
		}
		m.mu.Unlock()
		select {
		case <-done:
		case <-time.After(forcedStopWait):
			log.Ctx(ctx).Error().Msg("Задачи не остановились после принудительной отмены")
		}
		err = ErrShutdownTimeout
	}

	m.events.close()
	m.dispatcherWG.Wait()
	return err
}

// emitLocked queues a snapshot with the callbacks to run for it. Caller holds m.mu.
func (m *Manager) emitLocked(e *entry) {
	callbacks := make([]TaskCallback, 0, len(m.listeners)+len(e.callbacks))
	callbacks = append(callbacks, m.listeners...)
	callbacks = append(callbacks, e.callbacks...)
	m.events.push(event{task: e.task, callbacks: callbacks})
}

// dispatch delivers snapshots in order, outside of the manager lock.
func (m *Manager) dispatch() {
	defer m.dispatcherWG.Done()
	for {
		ev, ok := m.events.pop()
		if !ok {
			return
		}
		if m.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeSaveTimeout)
			if err := m.store.Save(ctx, ev.task); err != nil {
				log.Error().Err(err).Str("taskID", ev.task.ID.String()).Msg("Не удалось сохранить задачу")
			}
			cancel()
		}
		for _, cb := range ev.callbacks {
			cb(ev.task)
		}
	}
}

type event struct {
	task      Task
	callbacks []TaskCallback
}

// eventQueue is an unbounded FIFO so that emitting never blocks a transition.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// pop blocks until an event is available. It returns false once the queue is closed and drained.
func (q *eventQueue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return event{}, false
	}
	ev := q.items[0]
	q.items[0] = event{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
