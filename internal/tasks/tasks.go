// Package tasks runs fire-and-forget side effects off the request path.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Func is a unit of deferred work. The context carries the per-task deadline.
type Func func(ctx context.Context) error

type Dispatcher interface {
	Dispatch(name string, fn Func)
}

type task struct {
	name string
	fn   Func
}

// Queue is a bounded channel drained by a fixed pool of workers. Dispatch never
// blocks; when the buffer is full the task is dropped.
type Queue struct {
	logger  *logrus.Entry
	timeout time.Duration
	tasks   chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	onDrop func(name string)
}

func NewQueue(logger *logrus.Logger, workers, size int, timeout time.Duration) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{
		logger:  logger.WithField("component", "task_queue"),
		timeout: timeout,
		tasks:   make(chan task, size),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// OnDrop registers a hook called whenever a task is rejected.
func (q *Queue) OnDrop(fn func(name string)) {
	q.onDrop = fn
}

func (q *Queue) Dispatch(name string, fn Func) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(name, "queue closed")
		return
	}
	select {
	case q.tasks <- task{name: name, fn: fn}:
	default:
		q.drop(name, "queue full")
	}
}

func (q *Queue) drop(name, reason string) {
	q.logger.WithFields(logrus.Fields{
		"task":   name,
		"reason": reason,
	}).Warn("Dropping task")
	if q.onDrop != nil {
		q.onDrop(name)
	}
}

// Close stops intake and waits for queued tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"task":  t.name,
				"panic": r,
			}).Error("Task panicked")
		}
	}()

	start := time.Now()
	err := t.fn(ctx)
	entry := q.logger.WithFields(logrus.Fields{
		"task":     t.name,
		"duration": time.Since(start),
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		entry.WithError(err).Warn("Task timed out")
	case err != nil:
		entry.WithError(err).Error("Task failed")
	default:
		entry.Debug("Task completed")
	}
}

// Inline runs every task on the caller's goroutine.
type Inline struct {
	Logger  *logrus.Logger
	Timeout time.Duration
}

func (i Inline) Dispatch(name string, fn Func) {
	ctx := context.Background()
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil && i.Logger != nil {
		i.Logger.WithFields(logrus.Fields{
			"component": "task_inline",
			"task":      name,
		}).WithError(err).Error("Task failed")
	}
}
