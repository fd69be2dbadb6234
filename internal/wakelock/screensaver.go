package wakelock

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const (
	screenSaverName      = "org.freedesktop.ScreenSaver"
	screenSaverPath      = "/org/freedesktop/ScreenSaver"
	screenSaverInhibit   = screenSaverName + ".Inhibit"
	screenSaverUnInhibit = screenSaverName + ".UnInhibit"
)

// caller is the part of dbus.BusObject used here
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// screenSaverInhibitor uses the freedesktop ScreenSaver session service
// (KDE, GNOME, XFCE, most portals).
type screenSaverInhibitor struct {
	obj   caller
	close func() error
}

func newScreenSaverInhibitor(conn *dbus.Conn) *screenSaverInhibitor {
	return &screenSaverInhibitor{
		obj:   conn.Object(screenSaverName, screenSaverPath),
		close: conn.Close,
	}
}

func (s *screenSaverInhibitor) Name() string {
	return "screensaver"
}

func (s *screenSaverInhibitor) Inhibit(ctx context.Context, reason string) (func(context.Context) error, error) {
	var cookie uint32
	if err := s.obj.CallWithContext(ctx, screenSaverInhibit, 0, appName, reason).Store(&cookie); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		return s.obj.CallWithContext(ctx, screenSaverUnInhibit, 0, cookie).Err
	}, nil
}

func (s *screenSaverInhibitor) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
