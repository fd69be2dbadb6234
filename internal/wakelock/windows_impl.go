//go:build windows
// +build windows

package wakelock

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	esSystemRequired = 0x00000001
	esContinuous     = 0x80000000
)

var (
	kernel32                    = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadExecutionState = kernel32.NewProc("SetThreadExecutionState")
)

// executionStateInhibitor holds ES_SYSTEM_REQUIRED on a dedicated OS thread;
// the execution state belongs to the thread that set it.
type executionStateInhibitor struct{}

func detectInhibitor(logger *zap.Logger) (inhibitor, error) {
	if err := procSetThreadExecutionState.Find(); err != nil {
		return nil, fmt.Errorf("SetThreadExecutionState unavailable: %w", err)
	}
	logger.Debug("Using SetThreadExecutionState")
	return executionStateInhibitor{}, nil
}

func (executionStateInhibitor) Name() string {
	return "execution-state"
}

func (executionStateInhibitor) Inhibit(_ context.Context, _ string) (func(context.Context) error, error) {
	started := make(chan error, 1)
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(stopped)

		if r, _, err := procSetThreadExecutionState.Call(uintptr(esContinuous | esSystemRequired)); r == 0 {
			started <- fmt.Errorf("SetThreadExecutionState: %w", err)
			return
		}
		started <- nil

		<-stop
		procSetThreadExecutionState.Call(uintptr(esContinuous))
	}()

	if err := <-started; err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

func (executionStateInhibitor) Close() error {
	return nil
}
