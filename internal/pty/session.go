package pty

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Session is one shell attached to one pseudo-terminal.
type Session struct {
	ID        string
	Shell     Candidate
	Pid       int
	StartedAt time.Time

	console Console
	process Process
	logger  *logrus.Logger

	// writeMu serializes writers of this session only.
	writeMu sync.Mutex

	sizeMu sync.Mutex
	size   Size

	done     chan struct{}
	exited   chan struct{}
	exitCode atomic.Int32

	closeOnce sync.Once
	closed    atomic.Bool
}

// SessionInfo is a snapshot of a session for observers and listings.
type SessionInfo struct {
	ID        string
	Program   string
	Args      []string
	Pid       int
	Cols      int
	Rows      int
	StartedAt time.Time
}

func newSession(id string, l *launched, size Size, logger *logrus.Logger) *Session {
	s := &Session{
		ID:        id,
		Shell:     l.candidate,
		Pid:       l.process.Pid(),
		StartedAt: time.Now(),
		console:   l.console,
		process:   l.process,
		logger:    logger,
		size:      size,
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	s.exitCode.Store(-1)
	return s
}

// start launches the relay and the goroutine that reaps the shell.
func (s *Session) start(sink OutputFunc, observer Observer) {
	go func() {
		defer close(s.done)
		relay(s.ID, s.console.Reader(), sink, s.logger)
	}()

	go func() {
		code, err := s.process.Wait()
		s.exitCode.Store(int32(code))
		close(s.exited)

		log := s.logger.WithFields(logrus.Fields{"session": s.ID, "pid": s.Pid, "exit_code": code})
		if err != nil {
			log.WithError(err).Warn("shell wait failed")
		} else {
			log.Info("shell exited")
		}
		observer.SessionExited(s.Info(), code)
	}()
}

// Write sends data to the shell's terminal input. It fails with
// ErrSessionExited once the session's output stream has ended.
func (s *Session) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() || s.Ended() {
		return fmt.Errorf("%w: %s", ErrSessionExited, s.ID)
	}

	if _, err := s.console.Writer().Write(data); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	return nil
}

// Resize changes the terminal geometry of the session.
func (s *Session) Resize(cols, rows int) error {
	size, err := NewSize(cols, rows)
	if err != nil {
		return err
	}

	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	if err := s.console.Resize(size); err != nil {
		return fmt.Errorf("resize session %s: %w", s.ID, err)
	}
	s.size = size
	return nil
}

// Size returns the current terminal geometry.
func (s *Session) Size() Size {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	return s.size
}

// Done is closed when the session's relay has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ended reports whether the relay has stopped.
func (s *Session) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Exited reports whether the shell process has been reaped.
func (s *Session) Exited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the shell's exit code, or -1 while it is running.
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	size := s.Size()
	return SessionInfo{
		ID:        s.ID,
		Program:   s.Shell.Program,
		Args:      append([]string(nil), s.Shell.Args...),
		Pid:       s.Pid,
		Cols:      int(size.Cols),
		Rows:      int(size.Rows),
		StartedAt: s.StartedAt,
	}
}
