// Package wakelock keeps the host from idling or sleeping while playback runs.
package wakelock

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	appName       = "cadence"
	defaultReason = "Media playback"
)

// inhibitor is one platform mechanism for blocking idle/sleep
type inhibitor interface {
	Name() string
	// Inhibit blocks idle until the returned func is called
	Inhibit(ctx context.Context, reason string) (uninhibit func(context.Context) error, err error)
	Close() error
}

// Lock is a reference-free, idempotent wake lock: Acquire and Release may be
// called any number of times, only transitions reach the platform.
type Lock struct {
	logger    *zap.Logger
	inhibitor inhibitor
	reason    string

	mu        sync.Mutex
	uninhibit func(context.Context) error
}

// NewLock detects the platform inhibitor.
func NewLock(logger *zap.Logger) (*Lock, error) {
	inh, err := detectInhibitor(logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Wake lock backend detected", zap.String("name", inh.Name()))
	return newLock(logger, inh), nil
}

func newLock(logger *zap.Logger, inh inhibitor) *Lock {
	return &Lock{
		logger:    logger,
		inhibitor: inh,
		reason:    defaultReason,
	}
}

// Acquire inhibits idle if not already held.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.uninhibit != nil {
		return nil
	}

	uninhibit, err := l.inhibitor.Inhibit(ctx, l.reason)
	if err != nil {
		return fmt.Errorf("failed to inhibit idle with %s: %w", l.inhibitor.Name(), err)
	}
	l.uninhibit = uninhibit

	l.logger.Debug("Wake lock acquired", zap.String("backend", l.inhibitor.Name()))
	return nil
}

// Release lifts the inhibition if held.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.uninhibit == nil {
		return nil
	}

	uninhibit := l.uninhibit
	l.uninhibit = nil
	if err := uninhibit(ctx); err != nil {
		return fmt.Errorf("failed to release %s inhibition: %w", l.inhibitor.Name(), err)
	}

	l.logger.Debug("Wake lock released", zap.String("backend", l.inhibitor.Name()))
	return nil
}

// Held reports whether the lock is currently acquired.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uninhibit != nil
}

// Close releases the lock and the backend's resources.
func (l *Lock) Close() error {
	return multierr.Append(
		l.Release(context.Background()),
		l.inhibitor.Close(),
	)
}
