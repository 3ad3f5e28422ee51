// Package registry tracks and supervises stream workers by identifier.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/lead"
	"github.com/Decentralised-AI/aitino/internal/metrics"
)

// Runner is a long-running task driven by a context.
type Runner interface {
	Run(ctx context.Context)
}

// Factory builds the runner for a topic set when a worker starts.
type Factory func(subreddits []string) Runner

// Status describes a tracked worker's control-plane state.
type Status string

// Worker statuses.
const (
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

type entry struct {
	id         string
	subreddits []string
	status     Status
	cancel     context.CancelFunc
	done       chan struct{}
}

// orphan is a worker removed from the registry whose task had not yet
// terminated when its stop deadline expired.
type orphan struct {
	id   string
	done chan struct{}
}

// Registry owns every worker record and its task handle. The map is the
// only state shared across workers; the lock is held only for map
// reads/writes, never across a network call or a stop wait.
type Registry struct {
	mu          sync.Mutex
	workers     map[string]*entry
	orphans     []orphan
	factory     Factory
	idGen       lead.IDGenerator
	stopTimeout time.Duration
	logger      *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New constructs a Registry. Worker tasks are children of a registry-owned
// context so StopAll can tear everything down at shutdown.
func New(factory Factory, idGen lead.IDGenerator, stopTimeout time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		workers:     make(map[string]*entry),
		factory:     factory,
		idGen:       idGen,
		stopTimeout: stopTimeout,
		logger:      logger,
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
}

// Start launches a worker for the topic set and registers it under id.
// An empty id gets a generated one. Returns the tracked id, or
// lead.ErrAlreadyRunning when the id is already tracked. Start returns as
// soon as the task is launched; it never blocks on worker internals.
func (r *Registry) Start(id string, subreddits []string) (string, error) {
	if id == "" {
		generated, err := r.idGen.NewID()
		if err != nil {
			return "", err
		}
		id = generated
	}

	runner := r.factory(subreddits)
	ctx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{
		id:         id,
		subreddits: subreddits,
		status:     StatusRunning,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.workers[id]; exists {
		r.mu.Unlock()
		cancel()
		return "", lead.ErrAlreadyRunning
	}
	r.workers[id] = e
	r.mu.Unlock()

	metrics.IncActiveWorkers()
	go func() {
		defer close(e.done)
		runner.Run(ctx)
	}()

	r.logger.Info("stream worker started",
		zap.String("worker_id", id),
		zap.Strings("subreddits", subreddits),
	)
	return id, nil
}

// Stop signals cooperative cancellation to the worker and waits up to the
// stop deadline for its task to finish. On timeout the entry is removed
// anyway and the task may still be mid-flight; callers must not assume
// resources are freed when Stop returns.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok || e.status == StatusStopping {
		r.mu.Unlock()
		return lead.ErrNotFound
	}
	e.status = StatusStopping
	r.mu.Unlock()

	e.cancel()

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	var leaked bool
	select {
	case <-e.done:
	case <-timer.C:
		leaked = true
	}

	r.mu.Lock()
	delete(r.workers, id)
	if leaked {
		r.orphans = append(r.orphans, orphan{id: id, done: e.done})
	}
	r.mu.Unlock()

	metrics.DecActiveWorkers()
	if leaked {
		metrics.ObserveOrphanedWorker()
		r.logger.Warn("worker did not stop before deadline, removing entry anyway",
			zap.String("worker_id", id),
			zap.Duration("deadline", r.stopTimeout),
		)
	} else {
		r.logger.Info("stream worker stopped", zap.String("worker_id", id))
	}
	return nil
}

// Tracked reports whether id is currently registered.
func (r *Registry) Tracked(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[id]
	return ok
}

// Len returns the number of tracked workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Orphans returns the number of stop-timeout leaks not yet observed to
// finish.
func (r *Registry) Orphans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orphans)
}

// StopAll cancels every worker (including ones an individual Stop already
// gave up on) and waits up to the stop deadline for all tasks to finish.
// Tasks still running at the deadline are recorded as orphans, same as a
// timed-out Stop. Used at process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.workers))
	for _, e := range r.workers {
		entries = append(entries, e)
	}
	r.workers = make(map[string]*entry)
	r.mu.Unlock()

	r.baseCancel()

	deadline := time.Now().Add(r.stopTimeout)
	for _, e := range entries {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-e.done:
			timer.Stop()
		case <-timer.C:
			r.mu.Lock()
			r.orphans = append(r.orphans, orphan{id: e.id, done: e.done})
			r.mu.Unlock()
			metrics.ObserveOrphanedWorker()
			r.logger.Warn("worker still running at shutdown", zap.String("worker_id", e.id))
		}
		metrics.DecActiveWorkers()
	}
}

// RunReaper periodically checks whether orphaned tasks have since finished
// and logs their completion instead of silently forgetting them. Blocks
// until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	r.mu.Lock()
	remaining := r.orphans[:0]
	var finished []string
	for _, o := range r.orphans {
		select {
		case <-o.done:
			finished = append(finished, o.id)
		default:
			remaining = append(remaining, o)
		}
	}
	r.orphans = remaining
	r.mu.Unlock()

	for _, id := range finished {
		r.logger.Info("orphaned worker task finished", zap.String("worker_id", id))
	}
}
