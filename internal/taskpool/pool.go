// Package taskpool offloads blocking work from caller goroutines. The
// executor submits broadcast waits and user-supplied local work here so
// that the async entry points return immediately.
package taskpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
)

// ErrPoolClosed is returned by Submit after Close. The callback for a
// rejected submission is never invoked; the caller owns the failure.
var ErrPoolClosed = errors.New("taskpool: pool is closed")

// Task produces a value or an error. Tasks may block.
type Task func() (any, error)

// Callback receives a task's outcome. It runs on the worker goroutine and
// is invoked exactly once per accepted submission.
type Callback func(value any, err error)

// Config configures a pool.
type Config struct {
	// MaxConcurrent bounds the number of tasks running at once. Submissions
	// beyond the bound wait for a slot on their own goroutine, so Submit
	// itself never blocks.
	MaxConcurrent int
}

// Pool runs submitted tasks on background goroutines with bounded
// concurrency and delivers each outcome to its callback exactly once.
type Pool struct {
	sem    chan struct{}
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool. A non-positive MaxConcurrent falls back to 16.
func New(cfg Config) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	return &Pool{sem: make(chan struct{}, cfg.MaxConcurrent)}
}

// Submit schedules task and returns without waiting for it. The callback
// fires exactly once with the task's value or error; a panicking task is
// reported to the callback as an error. After Close, Submit returns
// ErrPoolClosed and the callback is not invoked.
func (p *Pool) Submit(task Task, cb Callback) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		metrics.TaskStarted()
		value, err := runTask(task)
		if err != nil {
			metrics.TaskFinished("error")
		} else {
			metrics.TaskFinished("ok")
		}
		if cb != nil {
			cb(value, err)
		}
	}()
	return nil
}

// runTask executes task, converting a panic into an error so a misbehaving
// task cannot take down the worker goroutine.
func runTask(task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("task panicked", "panic", r)
			value = nil
			err = fmt.Errorf("taskpool: task panicked: %v", r)
		}
	}()
	return task()
}

// Close stops accepting submissions and waits for in-flight tasks to
// finish. It is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Debug("task pool drained")
}
