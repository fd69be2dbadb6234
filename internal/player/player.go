// Package player wires the controller, the scheduler and the dispatcher around one
// engine and exposes them as a single media player.
package player

import (
	"context"
	"sync"

	"github.com/genricoloni/cadence/internal/controller"
	"github.com/genricoloni/cadence/internal/dispatcher"
	"github.com/genricoloni/cadence/internal/domain"
	"github.com/genricoloni/cadence/internal/looper"
	"github.com/genricoloni/cadence/internal/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes the media-time scheduler
type Options = scheduler.Options

// Player is safe for concurrent use. Every method except Prepare may be called
// from inside a listener callback.
type Player struct {
	logger     *zap.Logger
	looper     *looper.Looper
	controller *controller.Controller
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher

	cancel      context.CancelFunc
	done        sync.WaitGroup
	releaseOnce sync.Once
}

// New creates an Idle player around engine and starts its looper and event pump.
// wakeLock may be nil.
func New(logger *zap.Logger, engine domain.Engine, wakeLock domain.WakeLock, opts Options) *Player {
	c := controller.New(logger, engine, wakeLock)
	logger = logger.With(zap.Stringer("session", c.SessionID()))

	l := looper.New(logger.Named("looper"))
	s := scheduler.New(logger.Named("scheduler"), engine, l, opts)
	d := dispatcher.New(logger.Named("dispatcher"), l, c.Session(), c, s)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		logger:     logger,
		looper:     l,
		controller: c,
		scheduler:  s,
		dispatcher: d,
		cancel:     cancel,
	}

	p.done.Add(2)
	go func() {
		defer p.done.Done()
		l.Run(ctx)
	}()
	go func() {
		defer p.done.Done()
		d.Run(ctx, engine.Events())
	}()

	return p
}

func (p *Player) SetDataSource(ctx context.Context, locator string) error {
	return p.controller.SetDataSource(ctx, locator)
}

// Prepare blocks until the engine is prepared. Never call it from a listener.
func (p *Player) Prepare(ctx context.Context) error {
	return p.controller.Prepare(ctx)
}

func (p *Player) PrepareAsync() error {
	return p.controller.PrepareAsync()
}

func (p *Player) Start() error {
	return p.controller.Start()
}

func (p *Player) Pause() error {
	return p.controller.Pause()
}

func (p *Player) Stop() error {
	return p.controller.Stop()
}

func (p *Player) SeekTo(timeUs int64, mode domain.SeekMode) error {
	return p.controller.SeekTo(timeUs, mode)
}

// Reset returns the player to Idle; it does nothing after Release.
func (p *Player) Reset() {
	if p.controller.State() == domain.StateEnd {
		return
	}
	p.controller.Reset()
	p.scheduler.Reset()
}

// Release cancels the pending wake, drops every media-time registration,
// invalidates the session and releases the engine. It is idempotent and does not
// wait for the background goroutines; use Wait for that.
func (p *Player) Release() {
	p.releaseOnce.Do(func() {
		p.scheduler.Close()
		p.controller.Release()
		p.cancel()
		p.looper.Close()
		p.logger.Info("Player released")
	})
}

// Wait blocks until the looper and the event pump have exited after Release.
// It must not be called from a listener.
func (p *Player) Wait() {
	p.done.Wait()
}

// Sync waits for every event and notification queued so far to be delivered.
func (p *Player) Sync(ctx context.Context) error {
	return p.looper.Sync(ctx)
}

// CurrentPositionUs returns the corrected media time.
func (p *Player) CurrentPositionUs() int64 {
	return p.scheduler.CurrentTimeUs(false, true)
}

// NotifyAt asks for one OnTimedEvent when media time reaches timeUs.
func (p *Player) NotifyAt(timeUs int64, l domain.MediaTimeListener) error {
	return p.scheduler.NotifyAt(timeUs, l)
}

// ScheduleUpdate asks for an OnTimedEvent at the next opportunity.
func (p *Player) ScheduleUpdate(l domain.MediaTimeListener) error {
	return p.scheduler.ScheduleUpdate(l)
}

func (p *Player) CancelNotifications(l domain.MediaTimeListener) error {
	return p.scheduler.CancelNotifications(l)
}

// AddListener registers an application listener; see the domain listener interfaces.
func (p *Player) AddListener(l any) (remove func()) {
	return p.dispatcher.AddListener(l)
}

func (p *Player) SetLooping(looping bool) error {
	return p.controller.SetLooping(looping)
}

func (p *Player) IsLooping() bool {
	return p.controller.IsLooping()
}

func (p *Player) SetStreamType(t domain.StreamType) error {
	return p.controller.SetStreamType(t)
}

func (p *Player) SetAudioRoutingID(id int) error {
	return p.controller.SetAudioRoutingID(id)
}

func (p *Player) KeepAwake() bool {
	return p.controller.KeepAwake()
}

func (p *Player) IsPlaying() bool {
	return p.controller.IsPlaying()
}

func (p *Player) State() domain.State {
	return p.controller.State()
}

func (p *Player) SessionID() uuid.UUID {
	return p.controller.SessionID()
}

// PendingWake exposes the scheduler's single outstanding wake.
func (p *Player) PendingWake() (int64, bool) {
	return p.scheduler.PendingWake()
}
