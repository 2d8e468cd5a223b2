package pty

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// launched is a shell running on a freshly opened console.
type launched struct {
	console   Console
	process   Process
	candidate Candidate
}

// bootstrap opens a console of the given size and launches the first
// candidate that starts. The console is closed when nothing could be launched.
func bootstrap(platform Platform, size Size, candidates []Candidate, env []string, dir string, logger *logrus.Logger) (*launched, error) {
	console, err := platform.OpenPTY(size)
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	launchErr := &LaunchError{}
	for _, cand := range candidates {
		proc, err := platform.SpawnShell(console, LaunchSpec{
			Candidate: cand,
			Env:       env,
			Dir:       dir,
		})
		if err != nil {
			logger.WithFields(logrus.Fields{
				"program": cand.Program,
				"error":   err,
			}).Debug("shell candidate failed")
			launchErr.Attempts = append(launchErr.Attempts, &AttemptError{Program: cand.Program, Err: err})
			continue
		}

		return &launched{
			console:   console,
			process:   proc,
			candidate: cand,
		}, nil
	}

	console.Close()
	return nil, launchErr
}
