// Package scheduler turns the engine's playback position into media-time
// notifications for registered listeners.
package scheduler

import (
	"errors"
	"sync"

	"github.com/genricoloni/cadence/internal/clock"
	"github.com/genricoloni/cadence/internal/domain"
	"github.com/genricoloni/cadence/internal/looper"
	"go.uber.org/zap"
)

// DefaultEarlyTriggerUs is how far ahead of its target a timed event may fire
const DefaultEarlyTriggerUs int64 = 1000

// Engine is the part of the playback engine the scheduler reads the clock from
type Engine interface {
	CurrentPositionUs() (int64, bool, error)
	// RequestWakeAt asks for a NotifyTime event at timeUs, replacing any earlier request.
	// NoTime cancels the outstanding request.
	RequestWakeAt(timeUs int64)
}

// Options tunes the scheduler; zero values select the defaults
type Options struct {
	EarlyTriggerUs  int64
	SeekThresholdUs int64
}

type notifyKind uint8

const (
	notifyTime notifyKind = 1 << iota
	notifySeek
	notifyStop
)

// Scheduler owns the clock model and the listener registry. Hooks and registration
// calls may come from any goroutine; notification work always runs on the looper.
type Scheduler struct {
	logger      *zap.Logger
	engine      Engine
	poster      looper.Poster
	toleranceUs int64

	mu       sync.Mutex
	clock    *clock.Model
	registry Registry
	pending  notifyKind
	posted   bool
	wakeAtUs int64
	closed   bool
}

// New creates a scheduler in the stopped state. The position is treated as unknown
// until the first OnNewPlayer.
func New(logger *zap.Logger, engine Engine, poster looper.Poster, opts Options) *Scheduler {
	if opts.EarlyTriggerUs <= 0 {
		opts.EarlyTriggerUs = DefaultEarlyTriggerUs
	}
	c := clock.New(opts.SeekThresholdUs)
	c.Refresh = true

	return &Scheduler{
		logger:      logger,
		engine:      engine,
		poster:      poster,
		toleranceUs: opts.EarlyTriggerUs,
		clock:       c,
		wakeAtUs:    NoTime,
	}
}

// CurrentTimeUs returns the corrected media time. With refresh the engine is always
// consulted; with monotonic small regressions are held at the last reported value.
func (s *Scheduler) CurrentTimeUs(refresh, monotonic bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentTimeLocked(refresh, monotonic)
}

func (s *Scheduler) currentTimeLocked(refresh, monotonic bool) int64 {
	if pos, ok := s.clock.Cached(refresh); ok {
		return pos
	}

	raw, playing, err := s.engine.CurrentPositionUs()
	if err != nil {
		if !errors.Is(err, domain.ErrEngineState) {
			s.logger.Warn("Engine position unavailable", zap.Error(err))
		}
		return s.clock.Unavailable()
	}

	pos, discontinuity := s.clock.Observe(raw, playing, monotonic)
	if discontinuity {
		s.logger.Debug("Position regressed, treating as seek",
			zap.Int64("reported_us", pos),
			zap.Int64("observed_us", raw),
		)
		s.scheduleLocked(notifySeek)
	}
	return pos
}

// NotifyAt registers l for a single OnTimedEvent once media time reaches timeUs.
// Registering the same listener again replaces its target.
func (s *Scheduler) NotifyAt(timeUs int64, l domain.MediaTimeListener) error {
	return s.poster.Post(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return
		}
		s.registry.Upsert(l, timeUs, false)
		s.scheduleLocked(notifyTime)
	})
}

// ScheduleUpdate registers l for an OnTimedEvent at the next opportunity. The
// registration persists; each call re-arms it.
func (s *Scheduler) ScheduleUpdate(l domain.MediaTimeListener) error {
	return s.poster.Post(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return
		}
		target := NoTime
		if !s.clock.Stopped {
			target = 0
		}
		s.registry.Upsert(l, target, true)
		s.scheduleLocked(notifyTime)
	})
}

// CancelNotifications removes every registration of l.
func (s *Scheduler) CancelNotifications(l domain.MediaTimeListener) error {
	return s.poster.Post(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return
		}
		if s.registry.Remove(l) {
			s.scheduleLocked(notifyTime)
		}
	})
}

// PendingWake returns the single outstanding wake-up time, if any.
func (s *Scheduler) PendingWake() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wakeAtUs, s.wakeAtUs != NoTime
}

// Registered reports how many listeners are registered.
func (s *Scheduler) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.Len()
}

// OnPaused records a start (false) or pause (true) transition of the engine.
func (s *Scheduler) OnPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock.Resume(paused) {
		s.scheduleLocked(notifySeek)
		return
	}
	s.scheduleLocked(notifyTime)
}

// OnStopped records that playback stopped; registrations are kept. Seek and time
// notifications still pending are superseded by the stop.
func (s *Scheduler) OnStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.Stop()
	s.cancelWakeLocked()
	s.pending = 0
	s.scheduleLocked(notifyStop)
}

// OnSeekComplete announces the new position to every listener.
func (s *Scheduler) OnSeekComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.BeginSeek()
	s.scheduleLocked(notifySeek)
}

// OnBuffering records buffering start (true) or end (false).
func (s *Scheduler) OnBuffering(buffering bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.Buffering = buffering
	s.scheduleLocked(notifyTime)
}

// OnNotifyTime handles the engine's answer to RequestWakeAt.
func (s *Scheduler) OnNotifyTime() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wakeAtUs = NoTime
	s.scheduleLocked(notifyTime)
}

// OnNewPlayer is called once the engine is prepared. If the position could not be
// read before, listeners are told where playback now stands.
func (s *Scheduler) OnNewPlayer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.clock.Refresh {
		return
	}
	s.clock.Refresh = false
	s.clock.Buffering = false
	s.clock.BeginSeek()
	s.scheduleLocked(notifySeek)
}

// Reset returns the clock to its initial state for a new data source.
// Registrations survive.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.Reset()
	s.clock.Refresh = true
	s.pending = 0
	s.cancelWakeLocked()
}

// Close cancels the wake, drops every registration and ignores later hooks.
// It is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.pending = 0
	s.registry.Clear()
	s.cancelWakeLocked()
	s.logger.Debug("Scheduler closed")
}

func (s *Scheduler) cancelWakeLocked() {
	if s.wakeAtUs == NoTime {
		return
	}
	s.wakeAtUs = NoTime
	s.engine.RequestWakeAt(NoTime)
}

// scheduleLocked adds kind to the pending notification, posting it if needed.
// Pending kinds drain stop, seek, time; OnStopped clears the others first so a
// seek is never announced after a later stop.
func (s *Scheduler) scheduleLocked(kind notifyKind) {
	if s.closed {
		return
	}
	if kind == notifyTime && s.clock.Seeking {
		return
	}
	s.pending |= kind
	if s.posted {
		return
	}
	if err := s.poster.Post(s.runPending); err != nil {
		s.logger.Debug("Notification dropped", zap.Error(err))
		return
	}
	s.posted = true
}

func (s *Scheduler) runPending() {
	s.mu.Lock()
	kinds := s.pending
	s.pending = 0
	s.posted = false
	s.mu.Unlock()

	if kinds&notifyStop != 0 {
		s.notifyStop()
	}
	if kinds&notifySeek != 0 {
		s.notifySeek()
	}
	if kinds&notifyTime != 0 {
		s.notifyTimedEvent()
	}
}

func (s *Scheduler) notifyTimedEvent() {
	s.mu.Lock()
	if s.closed || s.clock.Seeking {
		s.mu.Unlock()
		return
	}

	now := s.currentTimeLocked(true, true)
	if s.clock.Seeking {
		// the read itself detected a discontinuity; the seek cycle re-arms timing
		s.mu.Unlock()
		return
	}
	due, nextUs, hasNext := s.registry.Due(now, s.toleranceUs)

	wakeUs := NoTime
	if hasNext && nextUs > now && !s.clock.Paused {
		wakeUs = nextUs
	}
	if wakeUs != s.wakeAtUs {
		s.wakeAtUs = wakeUs
		s.engine.RequestWakeAt(wakeUs)
	}
	s.mu.Unlock()

	for _, reg := range due {
		arg := reg.TargetUs
		if reg.Continuous {
			arg = now
		}
		reg.Listener.OnTimedEvent(arg)
	}
}

func (s *Scheduler) notifySeek() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.clock.Seeking = false
	pos := s.currentTimeLocked(true, false)
	listeners := s.registry.Listeners()
	if dropped := s.registry.DropSatisfied(pos); dropped > 0 {
		s.logger.Debug("Dropped passed targets", zap.Int("count", dropped), zap.Int64("position_us", pos))
	}
	s.scheduleLocked(notifyTime)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnSeek(pos)
	}
}

func (s *Scheduler) notifyStop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	listeners := s.registry.Listeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnStop()
	}
}
