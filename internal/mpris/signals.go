package mpris

import (
	"context"
	"time"

	"github.com/genricoloni/cadence/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func (e *Engine) matchRules() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(e.busName),
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchSender(e.busName),
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(playerIface),
			dbus.WithMatchMember("Seeked"),
		},
		{
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, e.busName),
		},
	}
}

// subscribe adds the match rules and starts the signal goroutine once per prepare.
func (e *Engine) subscribe() error {
	e.mu.Lock()
	if e.signals != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	for _, rule := range e.matchRules() {
		if err := e.conn.AddMatchSignal(rule...); err != nil {
			e.logger.Error("Failed to add match signal", zap.Error(err))
			return err
		}
	}

	signals := make(chan *dbus.Signal, 10)
	e.conn.Signal(signals)

	ctx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.signals = signals
	e.unsubscribe = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.monitorSignals(ctx, signals)
	return nil
}

func (e *Engine) unsubscribeSignals() error {
	e.mu.Lock()
	signals, cancel := e.signals, e.unsubscribe
	e.signals, e.unsubscribe = nil, nil
	e.mu.Unlock()

	if signals == nil {
		return nil
	}
	cancel()
	e.conn.RemoveSignal(signals)

	var err error
	for _, rule := range e.matchRules() {
		err = multierr.Append(err, e.conn.RemoveMatchSignal(rule...))
	}
	return err
}

// monitorSignals listens for D-Bus signals and processes them
func (e *Engine) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer e.wg.Done()

	e.logger.Debug("Signal monitoring goroutine started", zap.String("player", e.busName))
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Signal monitoring goroutine stopped", zap.String("player", e.busName))
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			e.handleSignal(sig)
		}
	}
}

func (e *Engine) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case nameOwnerChanged:
		e.handleNameOwnerChanged(sig)
	case seeked:
		e.handleSeeked(sig)
	case propertiesChanged:
		e.handlePropertiesChanged(sig)
	}
}

// handleNameOwnerChanged turns the player leaving the bus into a server-died error
func (e *Engine) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || name != e.busName {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	e.mu.Lock()
	e.owner = newOwner
	if newOwner == "" {
		e.prepared = false
		e.status = ""
		e.stopWakeLocked()
	}
	e.mu.Unlock()

	if newOwner == "" {
		e.logger.Warn("MPRIS player vanished",
			zap.String("player", name),
			zap.String("unique", oldOwner))
		e.emit(domain.ErrorEvent(domain.ErrorServerDied, 0))
		return
	}

	e.logger.Debug("MPRIS player ownership changed",
		zap.String("player", name),
		zap.String("oldUnique", oldOwner),
		zap.String("newUnique", newOwner))
}

// handleSeeked reports seeks made by other clients; our own SeekTo already did.
func (e *Engine) handleSeeked(sig *dbus.Signal) {
	if !e.fromPlayer(sig.Sender) {
		return
	}

	e.mu.Lock()
	echo := time.Now().Before(e.seekEcho)
	e.seekEcho = time.Time{}
	e.mu.Unlock()

	if echo {
		return
	}
	if len(sig.Body) > 0 {
		if pos, ok := sig.Body[0].(int64); ok {
			e.logger.Debug("External seek", zap.Int64("positionUs", pos))
		}
	}
	e.emit(domain.Event{Kind: domain.EventSeekComplete})
}

func (e *Engine) handlePropertiesChanged(sig *dbus.Signal) {
	// PropertiesChanged has 3 arguments: interface name, changed properties and
	// invalidated properties
	if len(sig.Body) < 2 || !e.fromPlayer(sig.Sender) {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != playerIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	if v, ok := changed["Metadata"]; ok {
		if metadata, ok := v.Value().(map[string]dbus.Variant); ok {
			e.mu.Lock()
			e.trackID = trackID(metadata)
			e.mu.Unlock()
			e.logTrack(metadata)
			e.emit(domain.InfoEvent(domain.InfoMetadataUpdate, 0))
		} else {
			e.logger.Warn("Invalid metadata format in signal, ignoring")
		}
	}

	if v, ok := changed["PlaybackStatus"]; ok {
		status, ok := v.Value().(string)
		if !ok {
			e.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
		if ev, ok := e.statusChanged(status); ok {
			e.emit(ev)
		}
	}
}

// statusChanged maps a PlaybackStatus transition to an event. Stopped is a completion
// unless our own Stop is in flight.
func (e *Engine) statusChanged(status string) (domain.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if status == e.status {
		return domain.Event{}, false
	}
	e.status = status

	switch status {
	case statusPlaying:
		return domain.Event{Kind: domain.EventStarted}, true
	case statusPaused:
		return domain.Event{Kind: domain.EventPaused}, true
	case statusStopped:
		if e.stopRequested {
			e.stopRequested = false
			return domain.Event{Kind: domain.EventStopped}, true
		}
		return domain.Event{Kind: domain.EventPlaybackComplete}, true
	default:
		e.logger.Debug("Unknown playback status", zap.String("status", status))
		return domain.Event{}, false
	}
}

func (e *Engine) fromPlayer(sender string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sender != "" && (sender == e.owner || sender == e.busName)
}
