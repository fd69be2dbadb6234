package domain

import (
	"context"
	"math"
	"time"
)

// MaxDurationUs is the largest microsecond count that still fits a time.Duration
const MaxDurationUs = math.MaxInt64 / int64(time.Microsecond)

// Engine is the opaque asynchronous decode/render service driven by the controller.
// Every call may fail independently of the controller's state machine; calls the engine
// cannot serve in its own state fail with ErrEngineState.
//
//go:generate mockgen -destination=mocks/engine_mock.go -package=mocks github.com/genricoloni/cadence/internal/domain Engine
type Engine interface {
	// SetDataSource binds the engine to a filesystem path, URL or opaque locator
	SetDataSource(ctx context.Context, locator string) error

	// Prepare blocks until the engine is ready to start or fails
	Prepare(ctx context.Context) error

	// PrepareAsync returns immediately; completion is reported by EventPrepared or EventError
	PrepareAsync() error

	Start() error
	Pause() error
	Stop() error

	// SeekTo starts an asynchronous seek, completed by EventSeekComplete
	SeekTo(timeUs int64, mode SeekMode) error

	Reset() error
	Release() error

	// CurrentPositionUs returns the raw playback position and whether the engine is playing
	CurrentPositionUs() (int64, bool, error)

	// RequestWakeAt asks the engine to emit one EventNotifyTime near timeUs, replacing
	// any earlier request. A negative timeUs cancels the outstanding request.
	RequestWakeAt(timeUs int64)

	// Events returns the engine's event stream, consumed by a single dispatcher
	Events() <-chan Event
}

// WakeLock keeps the host awake while playback needs it
type WakeLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	Held() bool
}

// Config defines the interface for application configuration
type Config interface {
	// GetEngine returns the engine backend name ("local" or "mpris")
	GetEngine() string

	// GetSource returns the locator the daemon plays
	GetSource() string

	// GetMprisPlayer returns the MPRIS player suffix (e.g. "spotify")
	GetMprisPlayer() string

	// GetEarlyTriggerUs returns the scheduler's early-trigger tolerance
	GetEarlyTriggerUs() int64

	// GetSeekThresholdUs returns the regression that is treated as an implicit seek
	GetSeekThresholdUs() int64

	// GetKeepAwake reports whether playback should hold a wake lock
	GetKeepAwake() bool

	// GetPollInterval returns how often the daemon logs the playback position
	GetPollInterval() time.Duration

	// GetNotifyEveryUs returns the spacing of the daemon's media-time markers
	GetNotifyEveryUs() int64
}
