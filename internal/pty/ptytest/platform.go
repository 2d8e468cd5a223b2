// Package ptytest provides an in-memory pty.Platform for tests. Bytes written
// to a console come straight back out of it, like a terminal with echo on.
package ptytest

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/PiranhaCodes/shellpty/internal/pty"
)

// Platform launches fake shells. Only programs listed in Available start;
// a nil set lets every program start.
type Platform struct {
	Available map[string]bool
	OpenErr   error

	mu       sync.Mutex
	consoles []*Console
	attempts []pty.LaunchSpec
	nextPid  atomic.Int32
}

// New returns a platform on which only the named programs can start.
func New(programs ...string) *Platform {
	p := &Platform{}
	if len(programs) > 0 {
		p.Available = make(map[string]bool, len(programs))
		for _, prog := range programs {
			p.Available[prog] = true
		}
	}
	p.nextPid.Store(1000)
	return p
}

func (p *Platform) OpenPTY(size pty.Size) (pty.Console, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	r, w := io.Pipe()
	c := &Console{r: r, w: w, size: size}
	p.mu.Lock()
	p.consoles = append(p.consoles, c)
	p.mu.Unlock()
	return c, nil
}

func (p *Platform) SpawnShell(console pty.Console, spec pty.LaunchSpec) (pty.Process, error) {
	p.mu.Lock()
	p.attempts = append(p.attempts, spec)
	p.mu.Unlock()

	if p.Available != nil && !p.Available[spec.Candidate.Program] {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", spec.Candidate.Program)
	}

	c := console.(*Console)
	proc := &Process{
		pid:     int(p.nextPid.Add(1)),
		console: c,
		exited:  make(chan struct{}),
	}
	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()
	return proc, nil
}

// Attempts returns every launch attempt in order.
func (p *Platform) Attempts() []pty.LaunchSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pty.LaunchSpec(nil), p.attempts...)
}

// Consoles returns every console opened so far.
func (p *Platform) Consoles() []*Console {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Console(nil), p.consoles...)
}

// Console is a loopback device.
type Console struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	size   pty.Size
	closed bool
	proc   *Process
	input  []byte
}

func (c *Console) Reader() io.Reader { return c.r }
func (c *Console) Writer() io.Writer { return consoleInput{c} }

// consoleInput records what the session wrote before looping it back.
type consoleInput struct{ c *Console }

func (in consoleInput) Write(p []byte) (int, error) {
	in.c.mu.Lock()
	in.c.input = append(in.c.input, p...)
	in.c.mu.Unlock()
	return in.c.w.Write(p)
}

// Input returns every byte written to the console, unmodified.
func (c *Console) Input() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.input...)
}

func (c *Console) Resize(size pty.Size) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.size = size
	return nil
}

// Size returns the last geometry set on the console.
func (c *Console) Size() pty.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Closed reports whether Close was called.
func (c *Console) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Console) Close() error {
	c.mu.Lock()
	c.closed = true
	proc := c.proc
	c.mu.Unlock()

	c.w.Close()
	c.r.Close()
	if proc != nil {
		proc.Exit(129)
	}
	return nil
}

// Emit writes data to the console's output as if the shell printed it.
func (c *Console) Emit(data string) error {
	_, err := c.w.Write([]byte(data))
	return err
}

// Process is a fake shell bound to a Console.
type Process struct {
	pid     int
	console *Console
	once    sync.Once
	code    atomic.Int32
	exited  chan struct{}
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Wait() (int, error) {
	<-p.exited
	return int(p.code.Load()), nil
}

func (p *Process) Terminate() error {
	p.Exit(143)
	return nil
}

func (p *Process) Kill() error {
	select {
	case <-p.exited:
		return os.ErrProcessDone
	default:
	}
	p.Exit(137)
	return nil
}

// Exit ends the fake shell with code. Its console reports end of stream.
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.code.Store(int32(code))
		p.console.w.Close()
		close(p.exited)
	})
}
