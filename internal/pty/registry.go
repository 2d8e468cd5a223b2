package pty

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Observer is notified about session lifecycle events. Methods are called
// from background goroutines.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionExited(info SessionInfo, exitCode int)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(SessionInfo)     {}
func (nopObserver) SessionExited(SessionInfo, int) {}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Registry owns the live sessions, keyed by caller-chosen id.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	candidates []Candidate
	closed     bool

	platform  Platform
	env       []string
	workDir   string
	logger    *logrus.Logger
	observer  Observer
	killGrace time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithPlatform replaces the native PTY backend.
func WithPlatform(p Platform) Option {
	return func(r *Registry) { r.platform = p }
}

// WithCandidates sets the shell fallback chain.
func WithCandidates(c []Candidate) Option {
	return func(r *Registry) { r.candidates = append([]Candidate(nil), c...) }
}

// WithEnv adds KEY=VALUE pairs to every shell's environment.
func WithEnv(env []string) Option {
	return func(r *Registry) { r.env = append([]string(nil), env...) }
}

// WithWorkDir sets the directory shells start in.
func WithWorkDir(dir string) Option {
	return func(r *Registry) { r.workDir = dir }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithKillGrace sets how long Close waits between terminate and kill.
func WithKillGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.killGrace = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:   make(map[string]*Session),
		candidates: DefaultCandidates(runtime.GOOS, os.Getenv),
		platform:   NativePlatform(),
		logger:     discardLogger,
		observer:   nopObserver{},
		killGrace:  DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetCandidates replaces the fallback chain used by later spawns. An empty
// chain restores the platform default.
func (r *Registry) SetCandidates(c []Candidate) {
	if len(c) == 0 {
		c = DefaultCandidates(runtime.GOOS, os.Getenv)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append([]Candidate(nil), c...)
}

// Candidates returns the current fallback chain.
func (r *Registry) Candidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Candidate(nil), r.candidates...)
}

// Spawn opens a cols x rows pseudo-terminal, launches a shell on it and
// relays its output to sink. An existing session with the same id is
// replaced and torn down.
func (r *Registry) Spawn(id string, cols, rows int, sink OutputFunc) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	size, err := NewSize(cols, rows)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = discardOutput
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	candidates := r.candidates
	r.mu.Unlock()

	env := shellEnv(os.Environ(), r.env)
	l, err := bootstrap(r.platform, size, candidates, env, r.workDir, r.logger)
	if err != nil {
		return nil, fmt.Errorf("spawn session %s: %w", id, err)
	}

	sess := newSession(id, l, size, r.logger)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sess.start(discardOutput, nopObserver{})
		sess.teardown(r.killGrace)
		return nil, ErrRegistryClosed
	}
	prev := r.sessions[id]
	r.sessions[id] = sess
	r.mu.Unlock()

	r.observer.SessionStarted(sess.Info())
	sess.start(sink, r.observer)

	r.logger.WithFields(logrus.Fields{
		"session": id,
		"program": l.candidate.Program,
		"pid":     sess.Pid,
		"cols":    cols,
		"rows":    rows,
	}).Info("spawned session")

	if prev != nil {
		r.logger.WithField("session", id).Info("replacing existing session")
		go prev.teardown(r.killGrace)
	}

	return sess, nil
}

// Write sends data to the session's shell. The registry lock is released
// before any I/O.
func (r *Registry) Write(id string, data []byte) error {
	sess, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Write(data)
}

// Resize changes a session's terminal geometry.
func (r *Registry) Resize(id string, cols, rows int) error {
	sess, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Resize(cols, rows)
}

// Close removes a session and stops its shell.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.teardown(r.killGrace)
	return nil
}

// Get retrieves a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// List returns all registered sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown refuses new spawns and tears down every session, waiting at most
// timeout for all of them.
func (r *Registry) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.teardown(r.killGrace)
		}(sess)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.WithField("pending", len(sessions)).Warn("shutdown timed out")
	}
}
