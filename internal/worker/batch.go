// Package worker содержит вспомогательные механизмы фоновой обработки:
// пакетный параллельный запуск вызовов провайдера, повторы с экспоненциальной
// задержкой и отправку метрик в Pushgateway.
package worker

import (
	"context"
	"fmt"
	"sync"

	"novel-continuity/pkg/taskmanager"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchReport summarizes one RunBatches call.
type BatchReport struct {
	Inputs   int      `json:"inputs"`
	Batches  int      `json:"batches"`
	Failed   int      `json:"failed"`
	Produced int      `json:"produced"`
	Unique   int      `json:"unique"`
	Stored   int      `json:"stored"`
	Errors   []string `json:"errors,omitempty"`
}

// BatchRunner fans provider calls out in fixed-size batches. Every batch is joined before the
// next one starts, results are deduplicated across the whole run and handed to the sink one
// batch at a time.
type BatchRunner struct {
	size    int
	limiter *rate.Limiter
	sinkMu  sync.Mutex
	logger  *zap.Logger
}

// NewBatchRunner creates a runner. limiter may be nil.
func NewBatchRunner(size int, limiter *rate.Limiter, logger *zap.Logger) *BatchRunner {
	if size <= 0 {
		size = 1
	}
	return &BatchRunner{size: size, limiter: limiter, logger: logger.Named("BatchRunner")}
}

// Size returns the batch size.
func (r *BatchRunner) Size() int { return r.size }

// dedupSet is the run-wide set of already seen results.
type dedupSet[K comparable] struct {
	mu   sync.Mutex
	seen map[K]struct{}
}

// add reports whether k was new.
func (s *dedupSet[K]) add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

// Progress is called after each batch with the number of processed inputs.
// Returning an error stops the run before the next batch.
type Progress func(done, total int) error

// RunBatches runs produce for every input, at most r.Size() at a time.
// A failing input is recorded in the report and does not stop its batch. The sink is called
// under a lock with the new unique outputs of each batch; a sink error aborts the run.
// Once ctx is done or its task is cancelled the pending batch is dropped, never sunk.
func RunBatches[In any, Out comparable](
	ctx context.Context,
	r *BatchRunner,
	inputs []In,
	produce func(ctx context.Context, in In) ([]Out, error),
	sink func(ctx context.Context, outs []Out) (int, error),
	progress Progress,
) (BatchReport, error) {
	report := BatchReport{Inputs: len(inputs)}
	seen := &dedupSet[Out]{seen: make(map[Out]struct{})}

	for start := 0; start < len(inputs); start += r.size {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + r.size
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]
		report.Batches++

		var mu sync.Mutex
		var fresh []Out
		var g errgroup.Group
		for i, in := range batch {
			idx, in := start+i, in
			g.Go(func() error {
				if r.limiter != nil {
					if err := r.limiter.Wait(ctx); err != nil {
						mu.Lock()
						report.Failed++
						report.Errors = append(report.Errors, fmt.Sprintf("input %d: %v", idx, err))
						mu.Unlock()
						return nil
					}
				}
				outs, err := produce(ctx, in)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, fmt.Sprintf("input %d: %v", idx, err))
					return nil
				}
				report.Produced += len(outs)
				for _, o := range outs {
					if seen.add(o) {
						fresh = append(fresh, o)
					}
				}
				return nil
			})
		}
		// барьер: следующая пачка стартует только после завершения текущей
		_ = g.Wait()
		report.Unique += len(fresh)

		// отмененная задача не записывает результаты
		if taskmanager.Cancelled(ctx) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			return report, taskmanager.ErrTaskCancelled
		}
		if len(fresh) > 0 && sink != nil {
			r.sinkMu.Lock()
			stored, err := sink(ctx, fresh)
			r.sinkMu.Unlock()
			if err != nil {
				return report, fmt.Errorf("batch %d: sink failed: %w", report.Batches, err)
			}
			report.Stored += stored
		}

		batchesTotal.Inc()
		r.logger.Debug("Batch finished",
			zap.Int("batch", report.Batches),
			zap.Int("size", len(batch)),
			zap.Int("new", len(fresh)),
			zap.Int("failedSoFar", report.Failed),
		)
		if progress != nil {
			if err := progress(end, len(inputs)); err != nil {
				return report, err
			}
		}
	}

	batchItemsTotal.WithLabelValues("ok").Add(float64(report.Inputs - report.Failed))
	batchItemsTotal.WithLabelValues("failed").Add(float64(report.Failed))
	return report, nil
}
