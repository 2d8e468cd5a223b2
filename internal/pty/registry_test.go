package pty_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiranhaCodes/shellpty/internal/pty"
	"github.com/PiranhaCodes/shellpty/internal/pty/ptytest"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// outputCollector is a thread-safe OutputFunc target.
type outputCollector struct {
	mu     sync.Mutex
	chunks map[string][]string
}

func newCollector() *outputCollector {
	return &outputCollector{chunks: make(map[string][]string)}
}

func (c *outputCollector) sink(id, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[id] = append(c.chunks[id], data)
}

func (c *outputCollector) text(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.chunks[id], "")
}

func (c *outputCollector) waitFor(t *testing.T, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(c.text(id), want)
	}, waitFor, tick, "output of %s never contained %q; got %q", id, want, c.text(id))
}

type recordingObserver struct {
	mu      sync.Mutex
	started []pty.SessionInfo
	exited  map[string]int
}

func (o *recordingObserver) SessionStarted(info pty.SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *recordingObserver) SessionExited(info pty.SessionInfo, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.exited == nil {
		o.exited = make(map[string]int)
	}
	o.exited[fmt.Sprintf("%s/%d", info.ID, info.Pid)] = code
}

func (o *recordingObserver) exitCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.exited)
}

func newTestRegistry(p *ptytest.Platform, opts ...pty.Option) *pty.Registry {
	base := []pty.Option{
		pty.WithPlatform(p),
		pty.WithCandidates([]pty.Candidate{{Program: "/bin/sh"}}),
		pty.WithKillGrace(50 * time.Millisecond),
	}
	return pty.NewRegistry(append(base, opts...)...)
}

func TestRegistry_WriteUnknownSession(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)

	err := r.Write("missing", []byte("ls\n"))

	require.Error(t, err)
	assert.ErrorIs(t, err, pty.ErrSessionNotFound)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, p.Consoles())
}

func TestRegistry_SpawnAndWrite(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)
	out := newCollector()

	sess, err := r.Spawn("s1", 80, 24, out.sink)
	require.NoError(t, err)

	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "/bin/sh", sess.Shell.Program)
	assert.Equal(t, pty.Size{Cols: 80, Rows: 24}, p.Consoles()[0].Size())
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Write("s1", []byte("echo hello\n")))
	out.waitFor(t, "s1", "echo hello\n")
}

func TestRegistry_SpawnSetsTerm(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p, pty.WithEnv([]string{"TERM=dumb", "EXTRA=1"}), pty.WithWorkDir("/srv"))
	defer r.Shutdown(time.Second)

	_, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)

	attempts := p.Attempts()
	require.Len(t, attempts, 1)
	env := attempts[0].Env
	assert.Equal(t, "TERM="+pty.TermType, env[len(env)-1])
	assert.Contains(t, env, "EXTRA=1")
	assert.NotContains(t, env, "TERM=dumb")
	assert.Equal(t, "/srv", attempts[0].Dir)
}

func TestRegistry_OutputOrder(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)
	out := newCollector()

	_, err := r.Spawn("s1", 80, 24, out.sink)
	require.NoError(t, err)

	require.NoError(t, r.Write("s1", []byte("echo A\n")))
	require.NoError(t, r.Write("s1", []byte("echo B\n")))
	out.waitFor(t, "s1", "echo B\n")

	text := out.text("s1")
	assert.Less(t, strings.Index(text, "echo A"), strings.Index(text, "echo B"))
	assert.Equal(t, "echo A\necho B\n", text, "each chunk is delivered exactly once")
}

func TestRegistry_RespawnReplacesSession(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)
	before, after := newCollector(), newCollector()

	first, err := r.Spawn("s1", 80, 24, before.sink)
	require.NoError(t, err)
	require.NoError(t, r.Write("s1", []byte("marker-before\n")))
	before.waitFor(t, "s1", "marker-before")

	second, err := r.Spawn("s1", 100, 30, after.sink)
	require.NoError(t, err)
	require.NotSame(t, first, second)

	require.NoError(t, r.Write("s1", []byte("marker-after\n")))
	after.waitFor(t, "s1", "marker-after")

	assert.NotContains(t, before.text("s1"), "marker-after")
	assert.NotContains(t, after.text("s1"), "marker-before")
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, second, got)

	// The replaced session is torn down.
	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("replaced session relay still running")
	}
	assert.True(t, p.Consoles()[0].Closed())
	assert.False(t, p.Consoles()[1].Closed())
}

func TestRegistry_SpawnValidation(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)

	_, err := r.Spawn("", 80, 24, nil)
	assert.ErrorIs(t, err, pty.ErrInvalidID)

	_, err = r.Spawn("s1", 0, 24, nil)
	assert.ErrorIs(t, err, pty.ErrInvalidSize)

	_, err = r.Spawn("s1", 80, -3, nil)
	assert.ErrorIs(t, err, pty.ErrInvalidSize)

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, p.Consoles())
}

func TestRegistry_SpawnFailureLeavesNoSession(t *testing.T) {
	p := ptytest.New("nothing-matches")
	r := newTestRegistry(p, pty.WithCandidates([]pty.Candidate{{Program: "pwsh.exe"}, {Program: "cmd.exe"}}))

	_, err := r.Spawn("s1", 80, 24, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, pty.ErrNoShell)
	assert.Contains(t, err.Error(), "cmd.exe failed")
	assert.Equal(t, 0, r.Count())
	require.Len(t, p.Consoles(), 1)
	assert.True(t, p.Consoles()[0].Closed())
}

func TestRegistry_OpenFailure(t *testing.T) {
	p := ptytest.New()
	p.OpenErr = errors.New("no more ptys")
	r := newTestRegistry(p)

	_, err := r.Spawn("s1", 80, 24, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no more ptys")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_FallbackChain(t *testing.T) {
	p := ptytest.New("cmd.exe")
	r := newTestRegistry(p, pty.WithCandidates(pty.ConsoleCandidates("")))
	defer r.Shutdown(time.Second)
	out := newCollector()

	sess, err := r.Spawn("s1", 80, 24, out.sink)
	require.NoError(t, err)

	assert.Equal(t, "cmd.exe", sess.Shell.Program)
	var tried []string
	for _, a := range p.Attempts() {
		tried = append(tried, a.Candidate.Program)
	}
	assert.Equal(t, []string{"pwsh.exe", "powershell.exe", "cmd.exe"}, tried)

	require.NoError(t, r.Write("s1", []byte("echo fallback\r\n")))
	out.waitFor(t, "s1", "echo fallback")
}

func TestRegistry_WriteAfterExit(t *testing.T) {
	p := ptytest.New()
	obs := &recordingObserver{}
	r := newTestRegistry(p, pty.WithObserver(obs))
	defer r.Shutdown(time.Second)

	sess, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)

	p.Consoles()[0].Close()

	select {
	case <-sess.Done():
	case <-time.After(waitFor):
		t.Fatal("relay did not stop after the shell exited")
	}
	require.Eventually(t, sess.Exited, waitFor, tick)

	err = r.Write("s1", []byte("ls\n"))
	assert.ErrorIs(t, err, pty.ErrSessionExited)
	assert.NotErrorIs(t, err, pty.ErrSessionNotFound)

	// The dead entry stays until it is closed or replaced.
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 129, sess.ExitCode())
	require.Eventually(t, func() bool { return obs.exitCount() == 1 }, waitFor, tick)
}

func TestRegistry_Close(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)

	sess, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close("s1"))

	assert.Equal(t, 0, r.Count())
	assert.True(t, p.Consoles()[0].Closed())
	assert.True(t, sess.Exited())
	assert.ErrorIs(t, r.Write("s1", []byte("x")), pty.ErrSessionNotFound)
	assert.ErrorIs(t, r.Close("s1"), pty.ErrSessionNotFound)
	assert.ErrorIs(t, sess.Write([]byte("x")), pty.ErrSessionExited)
}

func TestRegistry_Resize(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)

	sess, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)

	require.NoError(t, r.Resize("s1", 120, 40))
	assert.Equal(t, pty.Size{Cols: 120, Rows: 40}, p.Consoles()[0].Size())
	assert.Equal(t, pty.Size{Cols: 120, Rows: 40}, sess.Size())
	assert.Equal(t, 120, sess.Info().Cols)

	assert.ErrorIs(t, r.Resize("s1", 0, 40), pty.ErrInvalidSize)
	assert.ErrorIs(t, r.Resize("nope", 10, 10), pty.ErrSessionNotFound)
}

func TestRegistry_ConcurrentSessions(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)
	out := newCollector()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			if _, err := r.Spawn(id, 80, 24, out.sink); err != nil {
				t.Errorf("spawn %s: %v", id, err)
				return
			}
			for j := 0; j < 5; j++ {
				if err := r.Write(id, []byte(fmt.Sprintf("%s-%d\n", id, j))); err != nil {
					t.Errorf("write %s: %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, r.Count())
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		out.waitFor(t, id, id+"-4\n")
		assert.NotContains(t, out.text(id), fmt.Sprintf("s%d-", (i+1)%n))
	}

	ids := make([]string, 0, n)
	for _, s := range r.List() {
		ids = append(ids, s.ID)
	}
	assert.IsIncreasing(t, ids)
}

func TestRegistry_Observer(t *testing.T) {
	p := ptytest.New()
	obs := &recordingObserver{}
	r := newTestRegistry(p, pty.WithObserver(obs))

	sess, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close("s1"))

	require.Eventually(t, func() bool { return obs.exitCount() == 1 }, waitFor, tick)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.started, 1)
	assert.Equal(t, "s1", obs.started[0].ID)
	assert.Equal(t, "/bin/sh", obs.started[0].Program)
	assert.Equal(t, sess.Pid, obs.started[0].Pid)
}

func TestRegistry_Shutdown(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)

	_, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)
	_, err = r.Spawn("s2", 80, 24, nil)
	require.NoError(t, err)

	r.Shutdown(time.Second)

	assert.Equal(t, 0, r.Count())
	for _, c := range p.Consoles() {
		assert.True(t, c.Closed())
	}
	_, err = r.Spawn("s3", 80, 24, nil)
	assert.ErrorIs(t, err, pty.ErrRegistryClosed)
}

func TestRegistry_SetCandidates(t *testing.T) {
	p := ptytest.New()
	r := newTestRegistry(p)
	defer r.Shutdown(time.Second)

	r.SetCandidates([]pty.Candidate{{Program: "/usr/bin/fish"}})
	assert.Equal(t, []pty.Candidate{{Program: "/usr/bin/fish"}}, r.Candidates())

	sess, err := r.Spawn("s1", 80, 24, nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/fish", sess.Shell.Program)

	r.SetCandidates(nil)
	assert.NotEmpty(t, r.Candidates())
}
