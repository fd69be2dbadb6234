// Package daemon drives a single player for the playerd command.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/cadence/internal/domain"
	"go.uber.org/zap"
)

// Player is the part of player.Player the runner drives
type Player interface {
	SetDataSource(ctx context.Context, locator string) error
	Prepare(ctx context.Context) error
	Start() error
	Release()
	Wait()
	State() domain.State
	CurrentPositionUs() int64
	NotifyAt(timeUs int64, l domain.MediaTimeListener) error
	AddListener(l any) (remove func())
}

// Runner plays the configured source, logs a marker every notify_every_us of media
// time and the position every poll_interval.
type Runner struct {
	logger *zap.Logger
	cfg    domain.Config
	player Player

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	markers int
}

// NewRunner creates a new runner
func NewRunner(logger *zap.Logger, cfg domain.Config, p Player) *Runner {
	return &Runner{
		logger: logger,
		cfg:    cfg,
		player: p,
	}
}

// Start opens and prepares the source, starts playback and launches the position
// loop in a goroutine. It returns once playback has started.
func (r *Runner) Start(ctx context.Context) error {
	source := r.cfg.GetSource()
	r.logger.Info("Runner starting...", zap.String("source", source))

	if err := r.player.SetDataSource(ctx, source); err != nil {
		return fmt.Errorf("set data source: %w", err)
	}
	if err := r.player.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	r.player.AddListener(r)
	if every := r.cfg.GetNotifyEveryUs(); every > 0 {
		if err := r.player.NotifyAt(every, r); err != nil {
			return fmt.Errorf("schedule first marker: %w", err)
		}
	}

	if err := r.player.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// The start context only bounds startup
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.runLoop(loopCtx)
	return nil
}

// Stop ends the position loop, releases the player and waits for it to wind down.
func (r *Runner) Stop(ctx context.Context) error {
	r.logger.Info("Runner stopping...")

	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	r.player.Release()

	waited := make(chan struct{})
	go func() {
		r.player.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		r.logger.Info("Player shut down", zap.Int("markers", r.Markers()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Markers returns how many media-time markers fired so far.
func (r *Runner) Markers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markers
}

func (r *Runner) runLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.GetPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Position loop stopped")
			return
		case <-ticker.C:
			r.logger.Debug("Position",
				zap.Int64("positionUs", r.player.CurrentPositionUs()),
				zap.Stringer("state", r.player.State()))
		}
	}
}

func (r *Runner) OnTimedEvent(timeUs int64) {
	r.mu.Lock()
	r.markers++
	r.mu.Unlock()

	r.logger.Info("Media time reached", zap.Int64("timeUs", timeUs))
	r.scheduleAfter(timeUs)
}

func (r *Runner) OnSeek(timeUs int64) {
	r.logger.Info("Media time jumped", zap.Int64("timeUs", timeUs))
	r.scheduleAfter(timeUs)
}

func (r *Runner) OnStop() {
	r.logger.Info("Playback stopped")
}

func (r *Runner) OnCompletion() {
	r.logger.Info("Playback complete")
}

func (r *Runner) OnError(code, extra int) bool {
	r.logger.Error("Playback error", zap.Int("code", code), zap.Int("extra", extra))
	return false
}

func (r *Runner) OnInfo(code, extra int) bool {
	r.logger.Debug("Playback info", zap.Int("code", code), zap.Int("extra", extra))
	return false
}

func (r *Runner) scheduleAfter(timeUs int64) {
	every := r.cfg.GetNotifyEveryUs()
	if every <= 0 {
		return
	}
	next := nextMarker(timeUs, every)
	if err := r.player.NotifyAt(next, r); err != nil {
		r.logger.Warn("Failed to schedule marker", zap.Int64("timeUs", next), zap.Error(err))
	}
}

// nextMarker returns the first multiple of every strictly after timeUs.
func nextMarker(timeUs, every int64) int64 {
	if timeUs < 0 {
		return every
	}
	return (timeUs/every + 1) * every
}
