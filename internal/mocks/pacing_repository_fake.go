package mocks

import (
	"context"
	"sync"

	"novel-continuity/internal/interfaces"
	"novel-continuity/internal/models"

	"github.com/google/uuid"
)

// InMemoryPacingRepository is a PacingRepository backed by a map.
// Update holds a single lock for the whole read-modify-write, like the row lock of the real store.
type InMemoryPacingRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.PacingProgress
	// Writes counts successful Update calls.
	Writes int
}

func NewInMemoryPacingRepository() *InMemoryPacingRepository {
	return &InMemoryPacingRepository{rows: make(map[uuid.UUID]models.PacingProgress)}
}

func clone(p models.PacingProgress) *models.PacingProgress {
	out := p
	out.StageAnalysis = make(map[models.PacingStage]string, len(p.StageAnalysis))
	for k, v := range p.StageAnalysis {
		out.StageAnalysis[k] = v
	}
	if p.Motivation != nil {
		m := *p.Motivation
		out.Motivation = &m
	}
	return &out
}

func (r *InMemoryPacingRepository) Get(ctx context.Context, storyID uuid.UUID) (*models.PacingProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[storyID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(p), nil
}

func (r *InMemoryPacingRepository) Update(ctx context.Context, storyID uuid.UUID, init func() *models.PacingProgress, fn func(p *models.PacingProgress) error) (*models.PacingProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current *models.PacingProgress
	if p, ok := r.rows[storyID]; ok {
		current = clone(p)
	} else {
		if init == nil {
			return nil, models.ErrNotFound
		}
		if current = init(); current == nil {
			return nil, models.ErrNotFound
		}
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	r.rows[storyID] = *clone(*current)
	r.Writes++
	return current, nil
}

// Put seeds a row.
func (r *InMemoryPacingRepository) Put(p *models.PacingProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[p.StoryID] = *clone(*p)
}

var _ interfaces.PacingRepository = (*InMemoryPacingRepository)(nil)
