// Package looper provides the single serial execution context that owns the
// scheduler's and dispatcher's mutable state. Tasks posted from any goroutine run
// one at a time, in posting order, on the goroutine that calls Run.
package looper

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when posting to a closed looper
var ErrClosed = errors.New("looper closed")

// Poster is the part of the Looper that producers need
type Poster interface {
	Post(task func()) error
}

// Looper is an unbounded FIFO of tasks drained by one goroutine.
// Post never blocks, so tasks may post follow-up tasks.
type Looper struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New creates a looper; call Run to start draining it.
func New(logger *zap.Logger) *Looper {
	return &Looper{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post appends a task to the queue.
func (l *Looper) Post(task func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
		// A wake-up is already pending
	}
	return nil
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Looper) Run(ctx context.Context) {
	l.logger.Debug("Looper started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Looper stopped", zap.Error(ctx.Err()))
			return
		case <-l.done:
			l.logger.Debug("Looper closed")
			return
		case <-l.wake:
			for task := l.next(); task != nil; task = l.next() {
				l.exec(task)
			}
		}
	}
}

// Sync waits until every task posted before it has run.
// It must not be called from a task.
func (l *Looper) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := l.Post(func() { close(barrier) }); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the looper and drops pending tasks. It is idempotent.
func (l *Looper) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	dropped := len(l.queue)
	l.queue = nil
	close(l.done)

	if dropped > 0 {
		l.logger.Debug("Looper closed with pending tasks", zap.Int("dropped", dropped))
	}
}

func (l *Looper) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || len(l.queue) == 0 {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

// exec runs one task; a panicking listener must not take the loop down.
func (l *Looper) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}
