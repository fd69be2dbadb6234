// Package local decodes audio files and HTTP streams in-process and plays them
// through the system audio device.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"
)

type playState int

const (
	stateIdle playState = iota
	stateBound
	statePrepared
	statePlaying
	statePaused
	stateStopped
	stateCompleted
)

const eventBuffer = 64

// Engine plays one source at a time into an Output
type Engine struct {
	logger   *zap.Logger
	loader   *Loader
	out      Output
	events   chan domain.Event
	finished chan uint64

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	releaseOnce sync.Once
	releaseErr  error

	sendMu sync.RWMutex
	closed bool

	// mu is taken before the output lock, never after
	mu       sync.Mutex
	released bool
	state    playState
	locator  string
	streamer beep.StreamSeekCloser
	format   beep.Format
	rate     beep.SampleRate
	ctrl     *beep.Ctrl
	queued   bool
	gen      uint64 // invalidates completion callbacks of detached streams
	wake     *time.Timer
}

func NewEngine(logger *zap.Logger, loader *Loader, out Output) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		logger:   logger,
		loader:   loader,
		out:      out,
		events:   make(chan domain.Event, eventBuffer),
		finished: make(chan uint64, 8),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.wg.Add(1)
	go e.watchCompletion()
	return e
}

func (e *Engine) SetDataSource(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Check(locator); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return domain.ErrReleased
	}
	if e.state != stateIdle {
		return domain.ErrEngineState
	}
	e.locator = locator
	e.state = stateBound
	return nil
}

func (e *Engine) Prepare(ctx context.Context) error {
	if err := e.prepare(ctx); err != nil {
		return err
	}
	e.emit(domain.Event{Kind: domain.EventPrepared})
	return nil
}

func (e *Engine) PrepareAsync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return domain.ErrReleased
	}
	if e.state != stateBound && e.state != stateStopped {
		return domain.ErrEngineState
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.prepare(e.ctx); err != nil {
			e.logger.Warn("Asynchronous prepare failed", zap.Error(err))
			e.emit(domain.ErrorEvent(domain.ErrorIO, 0))
			return
		}
		e.emit(domain.Event{Kind: domain.EventPrepared})
	}()
	return nil
}

func (e *Engine) prepare(ctx context.Context) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	if e.state != stateBound && e.state != stateStopped {
		e.mu.Unlock()
		return domain.ErrEngineState
	}
	locator := e.locator
	e.mu.Unlock()

	src, err := e.loader.Open(ctx, locator)
	if err != nil {
		return err
	}
	streamer, format, err := decode(src)
	if err != nil {
		return err
	}
	rate, err := e.out.Init(format.SampleRate)
	if err != nil {
		streamer.Close()
		return fmt.Errorf("audio output: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		streamer.Close()
		return domain.ErrReleased
	}
	e.closeStreamLocked()
	e.streamer = streamer
	e.format = format
	e.rate = rate
	e.state = statePrepared
	e.enqueueLocked()

	e.logger.Info("Source prepared",
		zap.String("source", src.Name),
		zap.Int("sampleRate", int(format.SampleRate)),
		zap.Duration("duration", format.SampleRate.D(streamer.Len())))
	return nil
}

func (e *Engine) Start() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	switch e.state {
	case statePrepared, statePaused, stateCompleted:
	case statePlaying:
		e.mu.Unlock()
		return nil
	default:
		e.mu.Unlock()
		return domain.ErrEngineState
	}

	if !e.queued {
		e.enqueueLocked()
	}
	e.out.Lock()
	e.ctrl.Paused = false
	e.out.Unlock()
	e.state = statePlaying
	e.mu.Unlock()

	e.emit(domain.Event{Kind: domain.EventStarted})
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	switch e.state {
	case statePlaying:
	case statePaused:
		e.mu.Unlock()
		return nil
	default:
		e.mu.Unlock()
		return domain.ErrEngineState
	}

	e.out.Lock()
	e.ctrl.Paused = true
	e.out.Unlock()
	e.state = statePaused
	e.stopWakeLocked()
	e.mu.Unlock()

	e.emit(domain.Event{Kind: domain.EventPaused})
	return nil
}

// Stop detaches the stream from the output; Prepare reopens the source.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	switch e.state {
	case statePrepared, statePlaying, statePaused, stateCompleted, stateStopped:
	default:
		e.mu.Unlock()
		return domain.ErrEngineState
	}

	e.detachLocked()
	e.stopWakeLocked()
	e.state = stateStopped
	e.mu.Unlock()

	e.emit(domain.Event{Kind: domain.EventStopped})
	return nil
}

// SeekTo is sample accurate for every supported decoder, so mode is not consulted.
func (e *Engine) SeekTo(timeUs int64, _ domain.SeekMode) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	switch e.state {
	case statePrepared, statePlaying, statePaused, stateCompleted:
	default:
		e.mu.Unlock()
		return domain.ErrEngineState
	}

	endUs := e.format.SampleRate.D(e.streamer.Len()).Microseconds()
	n := e.format.SampleRate.N(time.Duration(min(max(timeUs, 0), endUs)) * time.Microsecond)
	n = min(max(n, 0), e.streamer.Len())

	e.out.Lock()
	err := e.streamer.Seek(n)
	e.out.Unlock()
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("seek to %dus: %w", timeUs, err)
	}
	e.emit(domain.Event{Kind: domain.EventSeekComplete})
	return nil
}

func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return domain.ErrReleased
	}
	e.stopWakeLocked()
	err := e.closeStreamLocked()
	e.locator = ""
	e.state = stateIdle
	return err
}

// Release is idempotent; it closes the event stream once every producer is gone.
func (e *Engine) Release() error {
	e.releaseOnce.Do(func() {
		e.mu.Lock()
		e.released = true
		e.stopWakeLocked()
		e.releaseErr = e.closeStreamLocked()
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()

		e.sendMu.Lock()
		e.closed = true
		close(e.events)
		e.sendMu.Unlock()

		e.logger.Info("Local engine released")
	})
	return e.releaseErr
}

func (e *Engine) CurrentPositionUs() (int64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return 0, false, domain.ErrReleased
	}
	if e.streamer == nil {
		return 0, false, domain.ErrEngineState
	}
	return e.positionLocked(), e.state == statePlaying, nil
}

// RequestWakeAt arms a timer for the wall-clock distance to timeUs at normal speed.
func (e *Engine) RequestWakeAt(timeUs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopWakeLocked()
	if timeUs < 0 || e.released || e.state != statePlaying {
		return
	}
	ahead := timeUs - e.positionLocked()
	if ahead > domain.MaxDurationUs {
		return
	}
	delay := time.Duration(max(ahead, 0)) * time.Microsecond
	e.wake = time.AfterFunc(delay, func() {
		e.emit(domain.Event{Kind: domain.EventNotifyTime})
	})
}

func (e *Engine) Events() <-chan domain.Event {
	return e.events
}

func (e *Engine) positionLocked() int64 {
	e.out.Lock()
	pos := e.streamer.Position()
	e.out.Unlock()
	return e.format.SampleRate.D(pos).Microseconds()
}

// enqueueLocked hands a paused control over the stream to the output.
func (e *Engine) enqueueLocked() {
	e.gen++
	gen := e.gen

	var s beep.Streamer = e.streamer
	// Resample if the track's sample rate differs from the output's
	if e.format.SampleRate != e.rate {
		s = beep.Resample(4, e.format.SampleRate, e.rate, e.streamer)
	}
	e.ctrl = &beep.Ctrl{Streamer: s, Paused: true}
	// The callback runs under the output lock: hand off, never block
	e.out.Play(beep.Seq(e.ctrl, beep.Callback(func() {
		select {
		case e.finished <- gen:
		default:
		}
	})))
	e.queued = true
}

// detachLocked lets the output drop the current control on its next pull.
func (e *Engine) detachLocked() {
	e.gen++
	if e.ctrl != nil {
		e.out.Lock()
		e.ctrl.Streamer = nil
		e.ctrl.Paused = false
		e.out.Unlock()
		e.ctrl = nil
	}
	e.queued = false
}

func (e *Engine) closeStreamLocked() error {
	e.detachLocked()
	if e.streamer == nil {
		return nil
	}
	err := e.streamer.Close()
	e.streamer = nil
	return err
}

func (e *Engine) stopWakeLocked() {
	if e.wake != nil {
		e.wake.Stop()
		e.wake = nil
	}
}

func (e *Engine) watchCompletion() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case gen := <-e.finished:
			e.complete(gen)
		}
	}
}

func (e *Engine) complete(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state != statePlaying {
		e.mu.Unlock()
		return
	}
	e.state = stateCompleted
	e.queued = false
	e.ctrl = nil
	e.stopWakeLocked()
	e.mu.Unlock()

	e.logger.Debug("Playback complete")
	e.emit(domain.Event{Kind: domain.EventPlaybackComplete})
}

// emit blocks until the dispatcher takes ev; events are never dropped while live.
func (e *Engine) emit(ev domain.Event) {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
		e.logger.Debug("Dropping event after release", zap.Stringer("event", ev))
	}
}
