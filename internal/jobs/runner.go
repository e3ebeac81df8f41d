// ABOUTME: In-process background task runner with observable completion state
// ABOUTME: Replaces fire-and-forget goroutines for slow external handshakes

package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task states
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Task is a snapshot of a submitted background task
type Task struct {
	ID         string
	Name       string
	State      string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner executes background tasks and retains their completion state so
// that a caller who received an immediate acknowledgment can observe the
// outcome later. Tasks run one goroutine each; state is bounded by
// evicting the oldest finished tasks beyond maxTasks.
type Runner struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	maxTasks int
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewRunner creates a runner retaining up to maxTasks task records
func NewRunner(maxTasks int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTasks <= 0 {
		maxTasks = 64
	}
	return &Runner{
		tasks:    make(map[string]*Task),
		maxTasks: maxTasks,
		logger:   logger.With("component", "jobs"),
	}
}

// Submit starts fn in the background and returns the task ID immediately.
// The task's context is detached from the submitting request so that the
// work survives the caller's disconnect.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) string {
	id := uuid.New().String()
	task := &Task{
		ID:        id,
		Name:      name,
		State:     StatePending,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	r.tasks[id] = task
	r.order = append(r.order, id)
	r.evictLocked()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.setState(id, StateRunning, "")
		err := fn(context.Background())
		if err != nil {
			r.logger.Error("background task failed", "task", name, "task_id", id, "error", err)
			r.setState(id, StateFailed, err.Error())
			return
		}
		r.logger.Info("background task finished", "task", name, "task_id", id)
		r.setState(id, StateSucceeded, "")
	}()

	return id
}

// Get returns a snapshot of the task, or false if it is unknown
// (never submitted, or already evicted).
func (r *Runner) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Wait blocks until all submitted tasks have finished. Used by tests and
// by graceful shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) setState(id, state, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return
	}
	task.State = state
	task.Error = errText
	if state == StateSucceeded || state == StateFailed {
		task.FinishedAt = time.Now()
	}
}

// evictLocked drops the oldest task records beyond maxTasks.
// Must be called with mu held.
func (r *Runner) evictLocked() {
	for len(r.order) > r.maxTasks {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.tasks, oldest)
	}
}
