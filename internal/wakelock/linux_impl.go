//go:build linux
// +build linux

package wakelock

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// systemdInhibit blocks idle and sleep until killed
var systemdInhibit = commandInhibitor{
	name:   "systemd-inhibit",
	binary: "systemd-inhibit",
	args:   []string{"--what=idle:sleep", "--who=" + appName, "--why=%s", "--mode=block", "sleep", "infinity"},
}

// detectInhibitor prefers the session ScreenSaver service and falls back to systemd-inhibit
func detectInhibitor(logger *zap.Logger) (inhibitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err == nil {
		var owned bool
		err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, screenSaverName).Store(&owned)
		if err == nil && owned {
			return newScreenSaverInhibitor(conn), nil
		}
		logger.Debug("ScreenSaver service not available", zap.Bool("owned", owned), zap.Error(err))
		_ = conn.Close()
	} else {
		logger.Debug("Session bus not available", zap.Error(err))
	}

	if commandExists(systemdInhibit.binary) {
		inh := systemdInhibit
		return &inh, nil
	}

	return nil, fmt.Errorf("no supported idle inhibitor found on this system")
}
