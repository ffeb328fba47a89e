package main

import (
	"sync"
	"time"
)

// TaskRegistry is the single source of truth for task progress. All
// mutation goes through Create/Update/Terminate so readers never observe
// a partially merged state.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*TaskState
}

func newTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*TaskState)}
}

// Create registers a fresh task in the initializing state.
func (r *TaskRegistry) Create(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return
	}
	r.tasks[id] = &TaskState{
		Status:       StatusInitializing,
		Percent:      1,
		Message:      "Preparing download...",
		LastActivity: time.Now(),
	}
}

// Update applies fn to the task's state and stamps LastActivity. It is a
// no-op when the id is absent or the task has already reached a terminal
// state, so late pipeline writes cannot resurrect a cancelled or failed
// task.
func (r *TaskRegistry) Update(id string, fn func(*TaskState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[id]
	if !ok || st.Status.Terminal() {
		return
	}
	fn(st)
	st.LastActivity = time.Now()
}

// Terminate overwrites the task from any state. Used by error handling,
// cancel and the stall monitor; the last terminal writer wins.
func (r *TaskRegistry) Terminate(id string, status TaskStatus, percent float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return
	}
	r.tasks[id] = &TaskState{
		Status:       status,
		Percent:      percent,
		Message:      message,
		LastActivity: time.Now(),
	}
}

// Complete overwrites the task with its final completed state.
func (r *TaskRegistry) Complete(id string, final TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[id]
	if !ok || st.Status.Terminal() {
		return
	}
	final.Status = StatusCompleted
	final.Percent = 100
	final.LastActivity = time.Now()
	r.tasks[id] = &final
}

// Get returns a copy of the task state.
func (r *TaskRegistry) Get(id string) (TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

func (r *TaskRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Snapshot returns a copy of every entry, keyed by task id.
func (r *TaskRegistry) Snapshot() map[string]TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TaskState, len(r.tasks))
	for id, st := range r.tasks {
		out[id] = *st
	}
	return out
}

func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Active reports whether the task exists and has not reached a terminal
// state. The janitor uses this to avoid racing a slow but live pipeline.
func (r *TaskRegistry) Active(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tasks[id]
	return ok && !st.Status.Terminal()
}
