package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned for a malformed board description.
	ErrParse = errors.New("malformed board description")

	// ErrPlace is returned when no valid region exists for a command.
	ErrPlace = errors.New("no valid placement")

	// ErrRoute is returned when the command's input droplets cannot reach the placed region.
	ErrRoute = errors.New("no collision-free route")

	// ErrCollision is returned when a tick would violate the spacing or bounds rules.
	// It means the planner and router disagree and the session can no longer be trusted.
	ErrCollision = errors.New("tick validation failed")

	// ErrDropletNotFound is returned when a command references a droplet that is not live.
	ErrDropletNotFound = errors.New("droplet not found")

	// ErrProcessNotFound is returned for a closed or unknown process id.
	ErrProcessNotFound = errors.New("process not found")

	// ErrHardware is returned when the sink fails to perform a finalize-time effect.
	ErrHardware = errors.New("hardware actuation failed")

	// ErrManagerClosed is returned for submissions after the manager stopped.
	ErrManagerClosed = errors.New("manager closed")
)

// ParseError describes where a board description went wrong.
type ParseError struct {
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrParse, e.Msg)
	}
	return fmt.Sprintf("%v: %s: %s", ErrParse, e.Field, e.Msg)
}

// Unwrap lets errors.Is match ErrParse.
func (e *ParseError) Unwrap() error { return ErrParse }

// IsPlacementFailure reports whether err is a recoverable placement or routing failure.
func IsPlacementFailure(err error) bool {
	return errors.Is(err, ErrPlace) || errors.Is(err, ErrRoute)
}
