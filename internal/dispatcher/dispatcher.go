// Package dispatcher delivers engine events to the controller, the scheduler and
// application listeners, one event at a time, on the looper.
package dispatcher

import (
	"context"
	"sync"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/genricoloni/cadence/internal/looper"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Session is the invalidatable handle checked before every delivery
type Session interface {
	Live() bool
}

// Controller applies state transitions. HandleEvent returns false when the
// event was consumed.
type Controller interface {
	HandleEvent(ev domain.Event) bool
}

// Scheduler receives the clock-relevant transitions
type Scheduler interface {
	OnPaused(paused bool)
	OnStopped()
	OnSeekComplete()
	OnBuffering(buffering bool)
	OnNotifyTime()
	OnNewPlayer()
}

type entry struct {
	id       uint64
	listener any
}

// Dispatcher is the single entry point for engine events.
type Dispatcher struct {
	logger     *zap.Logger
	poster     looper.Poster
	session    Session
	controller Controller
	scheduler  Scheduler

	mu        sync.Mutex
	nextID    uint64
	listeners []entry
}

func New(logger *zap.Logger, poster looper.Poster, session Session, controller Controller, scheduler Scheduler) *Dispatcher {
	return &Dispatcher{
		logger:     logger,
		poster:     poster,
		session:    session,
		controller: controller,
		scheduler:  scheduler,
	}
}

// AddListener registers l for every listener interface of the domain package it
// implements. The returned func removes it.
func (d *Dispatcher) AddListener(l any) (remove func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, entry{id: id, listener: l})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.listeners = lo.Reject(d.listeners, func(e entry, _ int) bool { return e.id == id })
	}
}

// Run forwards events to the looper until ctx is done or the stream closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.Event) {
	d.logger.Debug("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("Dispatcher stopped", zap.Error(ctx.Err()))
			return

		case ev, ok := <-events:
			if !ok {
				d.logger.Debug("Engine event stream closed")
				return
			}
			if err := d.poster.Post(func() { d.deliver(ev) }); err != nil {
				d.logger.Warn("Dropping engine event", zap.Stringer("event", ev), zap.Error(err))
			}
		}
	}
}

// deliver runs on the looper.
func (d *Dispatcher) deliver(ev domain.Event) {
	if !d.session.Live() {
		d.logger.Warn("Dropping engine event after release", zap.Stringer("event", ev))
		return
	}
	if !d.controller.HandleEvent(ev) {
		d.logger.Debug("Event consumed by controller", zap.Stringer("event", ev))
		return
	}

	switch ev.Kind {
	case domain.EventPrepared:
		d.scheduler.OnNewPlayer()
		each(d.snapshot(), func(l domain.PreparedListener) { l.OnPrepared() })

	case domain.EventStarted:
		d.scheduler.OnPaused(false)

	case domain.EventPaused:
		d.scheduler.OnPaused(true)

	case domain.EventStopped:
		d.scheduler.OnStopped()

	case domain.EventSeekComplete:
		d.scheduler.OnSeekComplete()
		each(d.snapshot(), func(l domain.SeekCompleteListener) { l.OnSeekComplete() })

	case domain.EventBufferingStart:
		d.scheduler.OnBuffering(true)
		d.info(domain.InfoBufferingStart, ev.Extra)

	case domain.EventBufferingEnd:
		d.scheduler.OnBuffering(false)
		d.info(domain.InfoBufferingEnd, ev.Extra)

	case domain.EventBufferingUpdate:
		each(d.snapshot(), func(l domain.BufferingUpdateListener) { l.OnBufferingUpdate(ev.Percent) })

	case domain.EventPlaybackComplete:
		d.scheduler.OnPaused(true)
		d.completion()

	case domain.EventError:
		handled := false
		each(d.snapshot(), func(l domain.ErrorListener) {
			if l.OnError(ev.Code, ev.Extra) {
				handled = true
			}
		})
		if !handled {
			d.completion()
		}

	case domain.EventInfo:
		switch ev.Code {
		case domain.InfoBufferingStart:
			d.scheduler.OnBuffering(true)
		case domain.InfoBufferingEnd:
			d.scheduler.OnBuffering(false)
		}
		d.info(ev.Code, ev.Extra)

	case domain.EventVideoSizeChanged:
		each(d.snapshot(), func(l domain.VideoSizeChangedListener) { l.OnVideoSizeChanged(ev.Width, ev.Height) })

	case domain.EventTimedMetadata:
		each(d.snapshot(), func(l domain.TimedMetadataListener) { l.OnTimedMetadataAvailable(ev.Payload, ev.TimeUs) })

	case domain.EventNotifyTime:
		d.scheduler.OnNotifyTime()

	default:
		d.logger.Warn("Unknown engine event", zap.Stringer("event", ev))
	}
}

func (d *Dispatcher) completion() {
	each(d.snapshot(), func(l domain.CompletionListener) { l.OnCompletion() })
}

func (d *Dispatcher) info(code, extra int) {
	each(d.snapshot(), func(l domain.InfoListener) {
		if !l.OnInfo(code, extra) {
			d.logger.Debug("Info not handled", zap.Int("code", code), zap.Int("extra", extra))
		}
	})
}

// snapshot lets listeners add or remove listeners while being notified.
func (d *Dispatcher) snapshot() []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Map(d.listeners, func(e entry, _ int) any { return e.listener })
}

func each[T any](listeners []any, fn func(T)) {
	matching := lo.FilterMap(listeners, func(l any, _ int) (T, bool) {
		t, ok := l.(T)
		return t, ok
	})
	for _, l := range matching {
		fn(l)
	}
}
