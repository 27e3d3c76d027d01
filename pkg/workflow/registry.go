package workflow

import (
	"context"
	"sync"
)

// Registry tracks live workflows by run id so external callers (the API, a
// relay handler) can look one up and resume, cancel, or poll it.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

func NewRegistry() *Registry {
	return &Registry{
		workflows: make(map[string]*Workflow),
	}
}

// Register tracks a workflow under the given run id.
func (r *Registry) Register(runID string, w *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows[runID] = w
}

// Deregister stops tracking the given run id.
func (r *Registry) Deregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.workflows, runID)
}

// ByRunID returns the workflow owning the given run id.
func (r *Registry) ByRunID(runID string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[runID]
	if !ok {
		return nil, ErrRunNotFound
	}

	return w, nil
}

// Resume delivers a payload to the workflow owning runID. Unknown run ids
// report false, matching the workflow's own no-op policy.
func (r *Registry) Resume(ctx context.Context, runID, signalName string, payload any) bool {
	w, err := r.ByRunID(runID)
	if err != nil {
		return false
	}

	return w.Resume(ctx, runID, signalName, payload)
}

// Cancel cancels the run owning runID, reporting false when there is nothing
// to cancel.
func (r *Registry) Cancel(runID string) bool {
	w, err := r.ByRunID(runID)
	if err != nil {
		return false
	}

	return w.Cancel(runID)
}

// Statuses returns the status snapshot of every tracked workflow.
func (r *Registry) Statuses() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]map[string]any, 0, len(r.workflows))
	for _, w := range r.workflows {
		statuses = append(statuses, w.Status())
	}

	return statuses
}

// Len reports how many workflows are tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.workflows)
}
