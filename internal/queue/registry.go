package queue

import "sync"

// registration carries the non-serializable behavior attached to a job at
// enqueue time. It exists only in the process that enqueued the job; after
// a restart, resolution falls back to the static type table.
type registration struct {
	processor  ProcessorFunc
	onComplete CompletionFunc
}

type registry struct {
	mu      sync.Mutex
	entries map[string]registration
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]registration)}
}

func (r *registry) put(jobID string, reg registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jobID] = reg
}

func (r *registry) get(jobID string) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[jobID]
	return reg, ok
}

// take removes and returns the entry; removal and lookup are one critical
// section so a callback can never be handed to two callers.
func (r *registry) take(jobID string) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[jobID]
	if ok {
		delete(r.entries, jobID)
	}
	return reg, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
