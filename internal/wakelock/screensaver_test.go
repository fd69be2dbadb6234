package wakelock

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method string
	args   []interface{}
}

type fakeBusObject struct {
	calls []recordedCall
	reply map[string]*dbus.Call
}

func (f *fakeBusObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	if call, ok := f.reply[method]; ok {
		return call
	}
	return &dbus.Call{}
}

func TestScreenSaverInhibitor_CookieRoundTrip(t *testing.T) {
	obj := &fakeBusObject{reply: map[string]*dbus.Call{
		screenSaverInhibit: {Body: []interface{}{uint32(42)}},
	}}
	inh := &screenSaverInhibitor{obj: obj}

	uninhibit, err := inh.Inhibit(context.Background(), "Playing")
	require.NoError(t, err)
	require.NoError(t, uninhibit(context.Background()))

	require.Len(t, obj.calls, 2)
	assert.Equal(t, screenSaverInhibit, obj.calls[0].method)
	assert.Equal(t, []interface{}{appName, "Playing"}, obj.calls[0].args)
	assert.Equal(t, screenSaverUnInhibit, obj.calls[1].method)
	assert.Equal(t, []interface{}{uint32(42)}, obj.calls[1].args)
}

func TestScreenSaverInhibitor_InhibitError(t *testing.T) {
	obj := &fakeBusObject{reply: map[string]*dbus.Call{
		screenSaverInhibit: {Err: errors.New("org.freedesktop.DBus.Error.ServiceUnknown")},
	}}
	inh := &screenSaverInhibitor{obj: obj}

	_, err := inh.Inhibit(context.Background(), "Playing")

	assert.Error(t, err)
	assert.NoError(t, inh.Close(), "no connection to close")
}
