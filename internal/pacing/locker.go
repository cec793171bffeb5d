package pacing

import (
	"sync"

	"github.com/google/uuid"
)

// storyLocks serializes work per story inside the process.
// Entries are reference counted and removed when the last holder unlocks.
type storyLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*storyLock
}

type storyLock struct {
	mu   sync.Mutex
	refs int
}

func newStoryLocks() *storyLocks {
	return &storyLocks{locks: make(map[uuid.UUID]*storyLock)}
}

// lock blocks until the story is free and returns the unlock function.
func (s *storyLocks) lock(storyID uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[storyID]
	if !ok {
		l = &storyLock{}
		s.locks[storyID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, storyID)
		}
		s.mu.Unlock()
	}
}
