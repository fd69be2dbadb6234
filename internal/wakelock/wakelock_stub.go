//go:build !linux && !windows
// +build !linux,!windows

package wakelock

import (
	"fmt"

	"go.uber.org/zap"
)

// detectInhibitor reports that no backend exists for this platform (macOS, BSD, etc.)
func detectInhibitor(logger *zap.Logger) (inhibitor, error) {
	logger.Warn("Idle inhibition is not yet implemented for this platform")
	return nil, fmt.Errorf("idle inhibition not implemented for this platform")
}
