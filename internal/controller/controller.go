// Package controller implements the playback state machine. It validates every
// caller operation against the current state, forwards valid ones to the engine and
// applies the transitions reported by engine events.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller owns one Session. Its state is guarded by a mutex so synchronous
// operations can be called from any goroutine, listener callbacks included.
type Controller struct {
	logger   *zap.Logger
	wakeLock domain.WakeLock

	mu      sync.Mutex
	session *Session
}

// New creates a controller in the Idle state. wakeLock may be nil.
func New(logger *zap.Logger, engine domain.Engine, wakeLock domain.WakeLock) *Controller {
	s := newSession(engine)
	return &Controller{
		logger:   logger.With(zap.Stringer("session", s.ID())),
		wakeLock: wakeLock,
		session:  s,
	}
}

// Session returns the controller's session handle.
func (c *Controller) Session() *Session {
	return c.session
}

// SessionID returns the session token.
func (c *Controller) SessionID() uuid.UUID {
	return c.session.ID()
}

// State returns the current state.
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state
}

// SetDataSource binds the engine to locator.
func (c *Controller) SetDataSource(ctx context.Context, locator string) error {
	const op = "set data source"
	t, err := c.begin(op, domain.StateIdle)
	if err != nil {
		return err
	}

	if err := c.session.engine.SetDataSource(ctx, locator); err != nil {
		return &domain.ResourceError{Op: op, Locator: locator, Err: err}
	}

	c.commit(op, t.gen, func(s *Session) {
		s.state = domain.StateInitialized
	})
	return nil
}

// Prepare blocks until the engine is prepared. It must not be called from a
// listener callback.
func (c *Controller) Prepare(ctx context.Context) error {
	const op = "prepare"
	gen, from, err := c.enterPreparing(op)
	if err != nil {
		return err
	}

	if err := c.session.engine.Prepare(ctx); err != nil {
		c.commit(op, gen, func(s *Session) {
			s.state = from
		})
		return &domain.ResourceError{Op: op, Err: err}
	}

	c.commit(op, gen, func(s *Session) {
		s.state = domain.StatePrepared
	})
	return nil
}

// PrepareAsync starts preparation and returns; EventPrepared completes it.
func (c *Controller) PrepareAsync() error {
	const op = "prepare async"
	gen, from, err := c.enterPreparing(op)
	if err != nil {
		return err
	}

	if err := c.session.engine.PrepareAsync(); err != nil {
		c.commit(op, gen, func(s *Session) {
			s.state = from
		})
		return &domain.ResourceError{Op: op, Err: err}
	}
	return nil
}

// Start begins or resumes playback. Starting from PlaybackCompleted rewinds first.
func (c *Controller) Start() error {
	const op = "start"
	t, err := c.begin(op, domain.StatePrepared, domain.StateStarted, domain.StatePaused, domain.StatePlaybackCompleted)
	if err != nil {
		return err
	}

	if t.state == domain.StatePlaybackCompleted {
		if err := c.session.engine.SeekTo(0, domain.SeekPreviousSync); err != nil {
			c.logger.Debug("Rewind before restart failed", zap.Error(err))
		}
	}

	if err := c.session.engine.Start(); err != nil {
		if errors.Is(err, domain.ErrEngineState) {
			c.logger.Debug("Start discarded, engine moved on", zap.Error(err))
			return nil
		}
		return fmt.Errorf("start: %w", err)
	}

	c.commit(op, t.gen, func(s *Session) {
		s.state = domain.StateStarted
		s.keepAwake = true
	})
	return nil
}

// Pause pauses playback.
func (c *Controller) Pause() error {
	const op = "pause"
	t, err := c.begin(op, domain.StateStarted, domain.StatePaused)
	if err != nil {
		return err
	}

	if err := c.session.engine.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}

	c.commit(op, t.gen, func(s *Session) {
		s.state = domain.StatePaused
		s.keepAwake = false
	})
	return nil
}

// Stop stops playback; a new prepare is needed before the next start.
func (c *Controller) Stop() error {
	const op = "stop"
	t, err := c.begin(op, domain.StatePrepared, domain.StateStarted, domain.StatePaused,
		domain.StateStopped, domain.StatePlaybackCompleted)
	if err != nil {
		return err
	}

	if err := c.session.engine.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}

	c.commit(op, t.gen, func(s *Session) {
		s.state = domain.StateStopped
		s.keepAwake = false
	})
	return nil
}

// SeekTo starts an asynchronous seek; the state is unchanged.
func (c *Controller) SeekTo(timeUs int64, mode domain.SeekMode) error {
	if !mode.Valid() {
		return fmt.Errorf("seek mode %d: %w", mode, domain.ErrInvalidArgument)
	}
	if _, err := c.begin("seek", domain.StatePrepared, domain.StateStarted, domain.StatePaused,
		domain.StatePlaybackCompleted); err != nil {
		return err
	}

	if err := c.session.engine.SeekTo(timeUs, mode); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// Reset returns the session to Idle. It is a no-op after Release.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.session.state == domain.StateEnd {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.session.engine.Reset(); err != nil {
		c.logger.Warn("Engine reset failed", zap.Error(err))
	}

	c.force(func(s *Session) {
		if s.state == domain.StateEnd {
			return
		}
		s.state = domain.StateIdle
		s.keepAwake = false
	})
}

// Release moves the session to End and releases the engine. It is idempotent.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.session.state == domain.StateEnd {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.force(func(s *Session) {
		s.state = domain.StateEnd
		s.keepAwake = false
	})

	if err := c.session.release(); err != nil {
		c.logger.Warn("Engine release failed", zap.Error(err))
	}
	c.logger.Debug("Session released")
}

// SetLooping makes the session restart on completion.
func (c *Controller) SetLooping(looping bool) error {
	return c.setAttribute("set looping", func(s *Session) { s.looping = looping }, domain.StateIdle,
		domain.StateInitialized, domain.StateStopped, domain.StatePrepared, domain.StateStarted,
		domain.StatePaused, domain.StatePlaybackCompleted)
}

// IsLooping never fails.
func (c *Controller) IsLooping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.looping
}

// SetStreamType tags the session's audio stream category.
func (c *Controller) SetStreamType(t domain.StreamType) error {
	return c.setAttribute("set stream type", func(s *Session) { s.streamType = t }, domain.StateIdle,
		domain.StateInitialized, domain.StateStopped, domain.StatePrepared, domain.StateStarted,
		domain.StatePaused, domain.StatePlaybackCompleted)
}

// StreamType returns the stream category.
func (c *Controller) StreamType() domain.StreamType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.streamType
}

// SetAudioRoutingID records the audio routing id; valid in any live state.
func (c *Controller) SetAudioRoutingID(id int) error {
	return c.setAttribute("set audio routing id", func(s *Session) { s.routingID = id }, domain.StateIdle,
		domain.StateInitialized, domain.StatePreparing, domain.StatePrepared, domain.StateStarted,
		domain.StatePaused, domain.StateStopped, domain.StatePlaybackCompleted, domain.StateError)
}

// AudioRoutingID returns the audio routing id.
func (c *Controller) AudioRoutingID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.routingID
}

// KeepAwake reports whether the session currently holds the resource awake.
func (c *Controller) KeepAwake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.keepAwake
}

// IsPlaying never fails.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state == domain.StateStarted
}

// HandleEvent applies the transition carried by an engine event. It returns false
// when the event was consumed and must not reach the scheduler or listeners.
func (c *Controller) HandleEvent(ev domain.Event) bool {
	switch ev.Kind {
	case domain.EventPrepared:
		c.force(func(s *Session) {
			if s.state == domain.StatePreparing {
				s.state = domain.StatePrepared
			}
		})

	case domain.EventPlaybackComplete:
		if c.IsLooping() && c.State() == domain.StateStarted {
			c.restartLoop()
			return false
		}
		c.force(func(s *Session) {
			if s.state.In(domain.StatePrepared, domain.StateStarted, domain.StatePaused) {
				s.state = domain.StatePlaybackCompleted
				s.keepAwake = false
			}
		})

	case domain.EventError:
		c.logger.Warn("Engine error", zap.Int("code", ev.Code), zap.Int("extra", ev.Extra))
		c.force(func(s *Session) {
			if s.state != domain.StateEnd {
				s.state = domain.StateError
				s.keepAwake = false
			}
		})
	}
	return true
}

func (c *Controller) restartLoop() {
	engine := c.session.engine
	if err := engine.SeekTo(0, domain.SeekPreviousSync); err != nil {
		c.logger.Warn("Loop rewind failed", zap.Error(err))
		return
	}
	if err := engine.Start(); err != nil {
		c.logger.Warn("Loop restart failed", zap.Error(err))
	}
}

func (c *Controller) enterPreparing(op string) (uint64, domain.State, error) {
	t, err := c.begin(op, domain.StateInitialized, domain.StateStopped)
	if err != nil {
		return 0, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s.gen != t.gen {
		return 0, 0, &domain.InvalidStateError{Op: op, State: s.state}
	}
	s.state = domain.StatePreparing
	s.gen++
	return s.gen, t.state, nil
}

// ticket is what an operation saw when it was validated
type ticket struct {
	gen   uint64
	state domain.State
}

// begin validates op against the valid states.
func (c *Controller) begin(op string, valid ...domain.State) (ticket, error) {
	c.mu.Lock()
	s := c.session
	t := ticket{gen: s.gen, state: s.state}
	if s.state.In(valid...) {
		c.mu.Unlock()
		return t, nil
	}

	changed := c.invalidLocked(op)
	c.mu.Unlock()

	c.afterUnlock(false, changed)
	return t, &domain.InvalidStateError{Op: op, State: t.state}
}

// invalidLocked forces Error for an illegal call; End is never left.
// It reports whether keep-awake was dropped.
func (c *Controller) invalidLocked(op string) bool {
	s := c.session
	c.logger.Debug("Invalid state for operation", zap.String("op", op), zap.Stringer("state", s.state))
	if s.state == domain.StateEnd {
		return false
	}
	dropped := s.keepAwake
	s.state = domain.StateError
	s.keepAwake = false
	s.gen++
	return dropped
}

// commit applies a transition only if no other transition happened since gen.
func (c *Controller) commit(op string, gen uint64, apply func(*Session)) bool {
	c.mu.Lock()
	s := c.session
	if s.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale transition", zap.String("op", op), zap.Stringer("state", s.state))
		return false
	}
	before := s.keepAwake
	apply(s)
	s.gen++
	after := s.keepAwake
	c.mu.Unlock()

	c.afterUnlock(after, before != after)
	return true
}

// force applies an asynchronous transition unconditionally.
func (c *Controller) force(apply func(*Session)) {
	c.mu.Lock()
	s := c.session
	before, prev := s.keepAwake, s.state
	apply(s)
	if s.state != prev {
		s.gen++
	}
	after := s.keepAwake
	c.mu.Unlock()

	c.afterUnlock(after, before != after)
}

func (c *Controller) afterUnlock(keepAwake, changed bool) {
	if !changed || c.wakeLock == nil {
		return
	}

	var err error
	if keepAwake {
		err = c.wakeLock.Acquire(context.Background())
	} else {
		err = c.wakeLock.Release(context.Background())
	}
	if err != nil {
		c.logger.Warn("Keep-awake update failed", zap.Bool("keep_awake", keepAwake), zap.Error(err))
	}
}

func (c *Controller) setAttribute(op string, apply func(*Session), valid ...domain.State) error {
	if _, err := c.begin(op, valid...); err != nil {
		return err
	}
	c.mu.Lock()
	apply(c.session)
	c.mu.Unlock()
	return nil
}
