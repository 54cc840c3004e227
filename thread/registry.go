// ABOUTME: Process-wide registry of running threads mapping thread id to cancel handle.

package thread

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks running workers so /halt can cancel them.
type Registry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Register records a running thread's cancel handle.
func (r *Registry) Register(threadID uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[threadID] = cancel
}

// Cancel halts the thread if it is running. Reports whether it was found.
func (r *Registry) Cancel(threadID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[threadID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Unregister removes a finished thread.
func (r *Registry) Unregister(threadID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, threadID)
}

// Len reports how many threads are running.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
