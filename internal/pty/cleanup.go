package pty

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultKillGrace is how long teardown waits for a shell to exit before
// escalating to a kill.
const DefaultKillGrace = 2 * time.Second

// teardown releases the console and stops the shell. Closing the console
// hangs up the terminal, which also makes the relay's read fail. It returns
// once the shell is reaped or the kill grace has run out twice.
func (s *Session) teardown(grace time.Duration) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		log := s.logger.WithFields(logrus.Fields{"session": s.ID, "pid": s.Pid})
		log.Info("cleaning up session")

		if err := s.console.Close(); err != nil {
			log.WithError(err).Debug("console close failed")
		}

		if s.Exited() {
			return
		}

		if err := s.process.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.WithError(err).Warn("failed to terminate shell")
		}

		select {
		case <-s.exited:
			return
		case <-time.After(grace):
		}

		if err := s.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.WithError(err).Warn("failed to kill shell")
		}

		select {
		case <-s.exited:
		case <-time.After(grace):
			log.Warn("shell not reaped after kill")
		}
	})
}
