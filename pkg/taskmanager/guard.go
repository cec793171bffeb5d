package taskmanager

import (
	"context"
	"sync"
	"time"
)

// TargetGuard is the per-target mutual exclusion flag.
// Acquire returns false when another token holds the target. Release by a non-holder is a no-op.
type TargetGuard interface {
	Acquire(ctx context.Context, target, token string) (bool, error)
	Release(ctx context.Context, target, token string) error
}

// TargetRefresher is a guard whose flags expire after TTL. The manager refreshes the flag of
// every queued or running task at a third of the TTL.
type TargetRefresher interface {
	TargetGuard
	Refresh(ctx context.Context, target, token string) (bool, error)
	TTL() time.Duration
}

// LocalGuard keeps target flags in process memory.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]string
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]string)}
}

func (g *LocalGuard) Acquire(_ context.Context, target, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.held[target]; ok && holder != token {
		return false, nil
	}
	g.held[target] = token
	return true, nil
}

func (g *LocalGuard) Release(_ context.Context, target, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[target] == token {
		delete(g.held, target)
	}
	return nil
}

// Held reports whether the target is currently flagged.
func (g *LocalGuard) Held(target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[target]
	return ok
}
