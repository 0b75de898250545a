package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrDuplicateRun is returned when a run id is already in progress.
var ErrDuplicateRun = errors.New("queue: run already in progress")

// Registry tracks the cancel functions of runs in progress.
type Registry struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]context.CancelFunc)}
}

func (r *Registry) Register(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return ErrDuplicateRun
	}
	r.runs[id] = cancel
	return nil
}

// Cancel stops the run and reports whether it was known.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.runs[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
