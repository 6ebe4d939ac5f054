// Package playback turns streamed PCM deltas into audible output: an
// accumulator reassembles deltas into clips and a sequential queue plays
// them one at a time in arrival order.
package playback

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of playback work. The context is cancelled when the
// queue shuts down.
type Task func(ctx context.Context) error

// Queue executes tasks strictly one at a time in FIFO order. A failing task
// is logged and does not block the tasks behind it. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	busy   bool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a playback queue and starts its worker goroutine.
func NewQueue() *Queue {
	q := &Queue{
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	go q.run()
	return q
}

// Enqueue appends a task to the queue. Returns false when the queue has
// been closed and the task will never run.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// Clear drops all not-yet-started tasks. A task already in flight is not
// affected; callers stop in-flight playback separately.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

// Pending returns the number of tasks waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Busy reports whether a task is currently executing.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Close drops pending tasks, cancels the in-flight task's context, and
// waits for the worker to exit. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.tasks = nil
	q.cond.Signal()
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

// run is the single worker. The one-at-a-time invariant holds because only
// this goroutine ever executes tasks.
func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.busy = true
		q.mu.Unlock()

		if err := task(q.ctx); err != nil {
			slog.Error("playback task failed", "err", err)
		}

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
	}
}
