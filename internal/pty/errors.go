package pty

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pty package.
var (
	// ErrSessionNotFound is returned when no session is registered under an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExited is returned when writing to a session whose output stream has ended.
	ErrSessionExited = errors.New("session has exited")

	// ErrInvalidSize is returned for a terminal geometry outside 1..65535.
	ErrInvalidSize = errors.New("invalid terminal size")

	// ErrInvalidID is returned when a session id is empty.
	ErrInvalidID = errors.New("session id is required")

	// ErrNoShell is matched by every LaunchError.
	ErrNoShell = errors.New("no shell could be launched")

	// ErrRegistryClosed is returned by Spawn after Shutdown.
	ErrRegistryClosed = errors.New("session registry is closed")
)

// AttemptError records why one shell candidate failed to launch.
type AttemptError struct {
	Program string
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Program, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// LaunchError is returned when every shell candidate failed. Its message is the
// most recent failure.
type LaunchError struct {
	Attempts []*AttemptError
}

func (e *LaunchError) Error() string {
	if len(e.Attempts) == 0 {
		return "no shell attempts were made"
	}
	return e.Attempts[len(e.Attempts)-1].Error()
}

func (e *LaunchError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrNoShell
}
