package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is matched by every InvalidStateError
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrInvalidArgument is returned for out-of-range arguments such as unknown seek modes
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEngineState is returned by engines that cannot serve a call in their own current state.
	// It is the engine-side counterpart of ErrInvalidState and carries no position.
	ErrEngineState = errors.New("engine not in a valid state")

	// ErrReleased is returned by engines used after Release
	ErrReleased = errors.New("session released")
)

// InvalidStateError reports an operation invoked outside its valid-state set
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: not valid in state %s", e.Op, e.State)
}

// Is lets errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ResourceError reports a source that could not be opened or prepared
type ResourceError struct {
	Op      string
	Locator string
	Err     error
}

func (e *ResourceError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Locator, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
