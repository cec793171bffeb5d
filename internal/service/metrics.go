package service

import (
	"sync"

	"novel-continuity/pkg/taskmanager"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_task_transitions_total",
			Help: "Task status transitions by task kind and new status.",
		},
		[]string{"kind", "status"},
	)
	chaptersPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_chapters_published_total",
			Help: "Published chapters by outcome (new, edited, rewritten, unchanged).",
		},
		[]string{"outcome"},
	)
)

// taskObserver считает только смены статуса: обновления прогресса приходят с тем же статусом.
type taskObserver struct {
	last sync.Map // uuid.UUID -> taskmanager.TaskStatus
}

func (o *taskObserver) observe(t taskmanager.Task) {
	prev, seen := o.last.Load(t.ID)
	if seen && prev.(taskmanager.TaskStatus) == t.Status {
		return
	}
	taskTransitionsTotal.WithLabelValues(t.Kind, string(t.Status)).Inc()
	if t.Status.Terminal() && t.Status != taskmanager.StatusFailed {
		o.last.Delete(t.ID)
		return
	}
	o.last.Store(t.ID, t.Status)
}
