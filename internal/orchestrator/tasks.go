package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	name string
	fn   func(ctx context.Context)
}

// taskQueue is a bounded work queue for collaborator hand-offs.
//
// A full queue drops the task with a warning rather than blocking the tick.
// Before start (and after stop) tasks run inline on the caller.
type taskQueue struct {
	size    int
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	ch      chan task
	running bool
	wg      sync.WaitGroup
}

func newTaskQueue(size int, timeout time.Duration, log *slog.Logger) *taskQueue {
	return &taskQueue{size: size, timeout: timeout, log: log}
}

func (q *taskQueue) start(ctx context.Context, workers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	q.ch = make(chan task, q.size)
	q.running = true
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func(ch <-chan task) {
			defer q.wg.Done()
			for t := range ch {
				q.run(ctx, t)
			}
		}(q.ch)
	}
}

// stop closes the queue and waits for queued tasks to finish.
func (q *taskQueue) stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *taskQueue) submit(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	t := task{name: name, fn: fn}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		q.run(ctx, t)
		return true
	}
	select {
	case q.ch <- t:
		q.mu.Unlock()
		return true
	default:
		q.mu.Unlock()
		q.log.Warn("task queue full, dropping task", "task", name)
		return false
	}
}

func (q *taskQueue) run(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked", "task", t.name, "panic", r)
		}
	}()
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	t.fn(tctx)
}
