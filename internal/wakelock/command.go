package wakelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// commandInhibitor holds inhibition for as long as a child process runs,
// e.g. systemd-inhibit wrapping an endless sleep.
type commandInhibitor struct {
	name   string
	binary string
	args   []string // %s is replaced with the reason
}

func (c *commandInhibitor) Name() string {
	return c.name
}

func (c *commandInhibitor) Inhibit(_ context.Context, reason string) (func(context.Context) error, error) {
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, "%s", reason)
	}

	// Not bound to the caller's context: the child must outlive Acquire
	cmd := exec.Command(c.binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.binary, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	return func(ctx context.Context) error {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		select {
		case <-exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil
}

func (c *commandInhibitor) Close() error {
	return nil
}

// commandExists checks if a binary exists in PATH
func commandExists(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
