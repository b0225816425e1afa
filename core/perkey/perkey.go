// Package perkey provides a scheduler that serializes work per key
// while allowing work for different keys to execute concurrently.
//
// The commit coordinator uses it as the per-stream critical section: for a
// given stream id, appends run one at a time in arrival order, while appends
// to other streams run in parallel.
package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per worker (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks (functions) such that for any given key K,
// tasks are executed sequentially, in submission order.
// Tasks for *different* keys can proceed in parallel.
//
// A worker goroutine exists only while its key has pending tasks.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker[K]
	closed     bool
	wg         sync.WaitGroup // tracks in-flight enqueue operations
	bufferSize int
}

type worker[K comparable] struct {
	key     K
	tasks   chan *task
	quit    chan struct{}
	pending int // queued + running, guarded by Scheduler.mu
}

const (
	taskQueued int32 = iota
	taskRunning
	taskCancelled
)

type task struct {
	fn    func() error
	done  chan error
	state atomic.Int32
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker[K]),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn to run for the given key.
// It blocks until fn finishes and returns its error.
// All fn calls for the same key are executed sequentially.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects context cancellation while the task is
// still waiting for its turn. A cancelled task is skipped and never runs.
// Once fn has started, DoContext waits for it to finish regardless of ctx.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	w := s.getOrCreateWorkerLocked(key)
	w.pending++
	s.mu.Unlock()

	t := &task{
		fn:   fn,
		done: make(chan error, 1),
	}

	// Enqueue task or respect context cancellation.
	select {
	case w.tasks <- t:
		s.wg.Done()
	case <-ctx.Done():
		s.wg.Done()
		s.release(w)
		return ctx.Err()
	}

	// Wait for completion, or withdraw the task if it has not started yet.
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskQueued, taskCancelled) {
			return ctx.Err()
		}
		return <-t.done
	}
}

// Pending returns the number of queued and running tasks for key.
func (s *Scheduler[K]) Pending(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[key]; ok {
		return w.pending
	}
	return 0
}

// Queued returns the number of tasks for key that wait for their turn and
// have not been picked up by the worker yet.
func (s *Scheduler[K]) Queued(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[key]; ok {
		return len(w.tasks)
	}
	return 0
}

// Close stops accepting new tasks and shuts down all workers.
// It waits for in-flight Do operations to finish enqueueing before
// closing worker channels. Existing tasks in queues will still be processed.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Wait for all in-flight Do operations to finish enqueueing.
	// This prevents sends to closed channels.
	s.wg.Wait()

	s.mu.Lock()
	for _, w := range s.workers {
		close(w.tasks)
	}
	s.workers = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) getOrCreateWorkerLocked(key K) *worker[K] {
	w, ok := s.workers[key]
	if ok {
		return w
	}

	w = &worker[K]{
		key:   key,
		tasks: make(chan *task, s.bufferSize),
		quit:  make(chan struct{}),
	}
	s.workers[key] = w
	go s.runWorker(w)

	return w
}

// release drops one pending task and retires the worker once idle.
func (s *Scheduler[K]) release(w *worker[K]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.pending--
	if w.pending == 0 && s.workers[w.key] == w {
		delete(s.workers, w.key)
		close(w.quit)
	}
}

// runWorker processes tasks sequentially for a single key.
func (s *Scheduler[K]) runWorker(w *worker[K]) {
	for {
		select {
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			if t.state.CompareAndSwap(taskQueued, taskRunning) {
				t.done <- t.fn()
			}
			s.release(w)
		case <-w.quit:
			return
		}
	}
}

// ErrSchedulerClosed is returned by Do and DoContext after Close.
var ErrSchedulerClosed = errors.New("perkey: scheduler closed")
