package pty

import (
	"fmt"
	"io"
)

// Size is a terminal geometry in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// NewSize validates cols and rows and returns the geometry.
func NewSize(cols, rows int) (Size, error) {
	if cols < 1 || rows < 1 || cols > 0xffff || rows > 0xffff {
		return Size{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}
	return Size{Cols: uint16(cols), Rows: uint16(rows)}, nil
}

// LaunchSpec describes one shell launch attempt.
type LaunchSpec struct {
	Candidate Candidate
	Env       []string
	Dir       string
}

// Console is the controller side of an open pseudo-terminal.
type Console interface {
	// Reader returns the stream of bytes the shell writes to its terminal.
	Reader() io.Reader

	// Writer returns the stream that feeds the shell's terminal input.
	Writer() io.Writer

	// Resize changes the terminal geometry.
	Resize(size Size) error

	// Close releases the device. Pending reads fail once the shell side is gone.
	Close() error
}

// Process is a launched shell.
type Process interface {
	Pid() int

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)

	// Terminate asks the process to exit.
	Terminate() error

	// Kill forces the process to exit.
	Kill() error
}

// Platform opens pseudo-terminals and launches shells attached to them.
type Platform interface {
	OpenPTY(size Size) (Console, error)

	// SpawnShell launches spec on console. It may be called again on the same
	// console after a failure.
	SpawnShell(console Console, spec LaunchSpec) (Process, error)
}

// NativePlatform returns the backend for the running operating system.
func NativePlatform() Platform {
	return nativePlatform()
}
