// Package mpris drives an external media player over the D-Bus MPRIS interface and
// exposes it as a playback engine.
package mpris

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	objectPath  = "/org/mpris/MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"
	propsIface  = "org.freedesktop.DBus.Properties"

	propertiesChanged = propsIface + ".PropertiesChanged"
	seeked            = playerIface + ".Seeked"
	nameOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"

	statusPlaying = "Playing"
	statusPaused  = "Paused"
	statusStopped = "Stopped"

	eventBuffer = 64

	// Seeked signals arriving this soon after our own SeekTo are its echo
	seekEchoWindow = time.Second
)

var errUnexpectedType = errors.New("unexpected property type")

// Engine controls one MPRIS player, e.g. org.mpris.MediaPlayer2.spotify.
// Status changes made by other clients of the player are reported as events too.
type Engine struct {
	logger  *zap.Logger
	conn    DBusClient // Interface for testability
	busName string
	events  chan domain.Event

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup // Tracks signal and prepare goroutines
	releaseOnce sync.Once
	releaseErr  error

	sendMu sync.RWMutex
	closed bool

	mu            sync.Mutex
	released      bool
	owner         string // unique bus name (:1.45) of the player
	locator       string
	prepared      bool
	status        string
	trackID       dbus.ObjectPath
	stopRequested bool
	seekEcho      time.Time
	wake          *time.Timer
	signals       chan *dbus.Signal
	unsubscribe   context.CancelFunc
}

// NewEngine creates an engine for the player whose bus name ends in player
func NewEngine(logger *zap.Logger, conn DBusClient, player string) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:  logger,
		conn:    conn,
		busName: busPrefix + player,
		events:  make(chan domain.Event, eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect opens the session bus and creates an engine for player
func Connect(logger *zap.Logger, player string) (*Engine, error) {
	conn, err := NewStdDBusClient()
	if err != nil {
		logger.Error("Failed to connect to session bus", zap.Error(err))
		return nil, fmt.Errorf("session bus connection failed: %w", err)
	}
	return NewEngine(logger, conn, player), nil
}

// SetDataSource checks that the player is on the bus and remembers the URI to open.
// An empty locator keeps whatever the player currently has loaded.
func (e *Engine) SetDataSource(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.isReleased() {
		return domain.ErrReleased
	}

	owner, err := e.conn.GetNameOwner(e.busName)
	if err != nil {
		return fmt.Errorf("player %s is not running: %w", e.busName, err)
	}

	e.mu.Lock()
	e.owner = owner
	e.locator = locator
	e.prepared = false
	e.mu.Unlock()

	e.logger.Info("Attached to MPRIS player",
		zap.String("player", e.busName),
		zap.String("unique", owner),
		zap.String("locator", locator))
	return nil
}

func (e *Engine) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.prepare(); err != nil {
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
	if e.owner == "" {
		return domain.ErrEngineState
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.prepare(); err != nil {
			e.logger.Warn("Asynchronous prepare failed", zap.Error(err))
			e.emit(domain.ErrorEvent(domain.ErrorIO, 0))
			return
		}
		e.emit(domain.Event{Kind: domain.EventPrepared})
	}()
	return nil
}

// prepare opens the locator, holds playback until Start and subscribes to the
// player's signals.
func (e *Engine) prepare() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	if e.owner == "" {
		e.mu.Unlock()
		return domain.ErrEngineState
	}
	locator := e.locator
	e.mu.Unlock()

	if locator != "" {
		if err := e.call("OpenUri", locator); err != nil {
			return err
		}
		// OpenUri starts playback on most players
		if err := e.call("Pause"); err != nil {
			return err
		}
	}

	if err := e.subscribe(); err != nil {
		return err
	}

	status, err := e.playbackStatus()
	if err != nil {
		return err
	}

	var id dbus.ObjectPath
	if metadata, err := e.metadata(); err == nil {
		id = trackID(metadata)
		e.logTrack(metadata)
	} else {
		e.logger.Debug("No metadata from player", zap.Error(err))
	}

	e.mu.Lock()
	e.prepared = true
	e.status = status
	e.trackID = id
	e.stopRequested = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) Start() error {
	return e.command("Play", statusPlaying, domain.EventStarted)
}

func (e *Engine) Pause() error {
	return e.command("Pause", statusPaused, domain.EventPaused)
}

// command invokes method and reports kind unless the player's own signal already did.
func (e *Engine) command(method, status string, kind domain.EventKind) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.call(method); err != nil {
		return err
	}

	e.mu.Lock()
	changed := e.status != status
	e.status = status
	e.mu.Unlock()

	if changed {
		e.emit(domain.Event{Kind: kind})
	}
	return nil
}

// Stop is always reported as EventStopped, never as a completion.
func (e *Engine) Stop() error {
	if err := e.ready(); err != nil {
		return err
	}

	e.mu.Lock()
	e.stopRequested = true
	e.mu.Unlock()

	if err := e.call("Stop"); err != nil {
		e.mu.Lock()
		e.stopRequested = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	pending := e.stopRequested
	e.stopRequested = false
	e.status = statusStopped
	e.prepared = false
	e.mu.Unlock()

	if pending {
		e.emit(domain.Event{Kind: domain.EventStopped})
	}
	return nil
}

// SeekTo uses SetPosition when the current track id is known and a relative Seek
// otherwise. MPRIS has no notion of sync frames, so mode only affects logging.
func (e *Engine) SeekTo(timeUs int64, mode domain.SeekMode) error {
	if err := e.ready(); err != nil {
		return err
	}

	e.mu.Lock()
	id := e.trackID
	e.seekEcho = time.Now().Add(seekEchoWindow)
	e.mu.Unlock()

	var err error
	if id != "" {
		err = e.call("SetPosition", id, timeUs)
	} else {
		var pos int64
		if pos, err = e.position(); err == nil {
			err = e.call("Seek", timeUs-pos)
		}
	}
	if err != nil {
		e.mu.Lock()
		e.seekEcho = time.Time{}
		e.mu.Unlock()
		return err
	}

	e.logger.Debug("Seek requested", zap.Int64("timeUs", timeUs), zap.Int("mode", int(mode)))
	e.emit(domain.Event{Kind: domain.EventSeekComplete})
	return nil
}

// Reset detaches from the player without stopping it.
func (e *Engine) Reset() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return domain.ErrReleased
	}
	e.stopWakeLocked()
	e.owner = ""
	e.locator = ""
	e.prepared = false
	e.status = ""
	e.trackID = ""
	e.mu.Unlock()

	return e.unsubscribeSignals()
}

// Release unsubscribes, waits for the signal goroutine, closes the event stream and
// the bus connection. It is idempotent.
func (e *Engine) Release() error {
	e.releaseOnce.Do(func() {
		e.mu.Lock()
		e.released = true
		e.stopWakeLocked()
		e.mu.Unlock()

		e.cancel()
		err := e.unsubscribeSignals()

		// Wait for all producer goroutines before closing the channel
		e.wg.Wait()
		e.sendMu.Lock()
		e.closed = true
		close(e.events)
		e.sendMu.Unlock()

		e.releaseErr = multierr.Append(err, e.conn.Close())
		e.logger.Info("MPRIS engine released", zap.String("player", e.busName))
	})
	return e.releaseErr
}

func (e *Engine) CurrentPositionUs() (int64, bool, error) {
	if err := e.ready(); err != nil {
		return 0, false, err
	}
	pos, err := e.position()
	if err != nil {
		return 0, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return pos, e.status == statusPlaying, nil
}

// RequestWakeAt arms a timer extrapolated from the player's current position.
// Nothing is armed while the player is not playing; the scheduler asks again on start.
func (e *Engine) RequestWakeAt(timeUs int64) {
	e.mu.Lock()
	e.stopWakeLocked()
	if timeUs < 0 || e.released {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	pos, playing, err := e.CurrentPositionUs()
	if err != nil {
		e.logger.Debug("Cannot arm wake", zap.Int64("timeUs", timeUs), zap.Error(err))
		return
	}
	if !playing {
		return
	}
	ahead := timeUs - pos
	if ahead > domain.MaxDurationUs {
		e.logger.Debug("Wake target out of range", zap.Int64("timeUs", timeUs))
		return
	}
	delay := time.Duration(max(ahead, 0)) * time.Microsecond

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.stopWakeLocked()
	e.wake = time.AfterFunc(delay, func() {
		e.emit(domain.Event{Kind: domain.EventNotifyTime})
	})
}

func (e *Engine) Events() <-chan domain.Event {
	return e.events
}

func (e *Engine) stopWakeLocked() {
	if e.wake != nil {
		e.wake.Stop()
		e.wake = nil
	}
}

func (e *Engine) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return domain.ErrReleased
	}
	if !e.prepared {
		return domain.ErrEngineState
	}
	return nil
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

func (e *Engine) call(method string, args ...interface{}) error {
	if err := e.conn.Call(e.busName, objectPath, playerIface+"."+method, args...); err != nil {
		return fmt.Errorf("%s on %s failed: %w", method, e.busName, err)
	}
	return nil
}

func (e *Engine) position() (int64, error) {
	variant, err := e.conn.GetProperty(e.busName, objectPath, playerIface+".Position")
	if err != nil {
		return 0, fmt.Errorf("failed to get position: %w", err)
	}
	pos, ok := variant.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("%w: Position is %T", errUnexpectedType, variant.Value())
	}
	return pos, nil
}

func (e *Engine) playbackStatus() (string, error) {
	variant, err := e.conn.GetProperty(e.busName, objectPath, playerIface+".PlaybackStatus")
	if err != nil {
		return "", fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := variant.Value().(string)
	if !ok {
		return "", fmt.Errorf("%w: PlaybackStatus is %T", errUnexpectedType, variant.Value())
	}
	return status, nil
}

func (e *Engine) metadata() (map[string]dbus.Variant, error) {
	variant, err := e.conn.GetProperty(e.busName, objectPath, playerIface+".Metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	// SAFE CAST: players with nothing loaded may return an empty or odd value
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: Metadata is %T", errUnexpectedType, variant.Value())
	}
	return metadata, nil
}

func (e *Engine) logTrack(metadata map[string]dbus.Variant) {
	var title, artist string
	if v, ok := metadata["xesam:title"]; ok {
		title, _ = v.Value().(string)
	}
	// Artist can be an array
	if v, ok := metadata["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			if len(artists) > 0 {
				artist = artists[0]
			}
		case string:
			artist = artists
		}
	}
	e.logger.Info("Track loaded",
		zap.String("player", e.busName),
		zap.String("title", title),
		zap.String("artist", artist))
}

func trackID(metadata map[string]dbus.Variant) dbus.ObjectPath {
	v, ok := metadata["mpris:trackid"]
	if !ok {
		return ""
	}
	switch id := v.Value().(type) {
	case dbus.ObjectPath:
		return id
	case string:
		// Some non-compliant players send a plain string
		return dbus.ObjectPath(id)
	default:
		return ""
	}
}
