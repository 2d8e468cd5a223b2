//go:build !windows

package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	ptylib "github.com/creack/pty"
)

func nativePlatform() Platform {
	return unixPlatform{}
}

// unixPlatform allocates devices with creack/pty and starts shells as session
// leaders with the device's terminal side as controlling terminal.
type unixPlatform struct{}

func (unixPlatform) OpenPTY(size Size) (Console, error) {
	ptmx, tty, err := ptylib.Open()
	if err != nil {
		return nil, err
	}

	if err := ptylib.Setsize(ptmx, &ptylib.Winsize{Rows: size.Rows, Cols: size.Cols}); err != nil {
		ptmx.Close()
		tty.Close()
		return nil, err
	}

	return &unixConsole{ptmx: ptmx, tty: tty}, nil
}

func (unixPlatform) SpawnShell(console Console, spec LaunchSpec) (Process, error) {
	c, ok := console.(*unixConsole)
	if !ok {
		return nil, errors.New("console was not opened by this platform")
	}

	path, err := exec.LookPath(spec.Candidate.Program)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty == nil {
		return nil, errors.New("terminal side already handed to a shell")
	}

	cmd := exec.Command(path, spec.Candidate.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = c.tty
	cmd.Stdout = c.tty
	cmd.Stderr = c.tty
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// The shell holds the only remaining terminal-side descriptor, so the
	// controller sees end of stream when it exits.
	c.tty.Close()
	c.tty = nil

	return &unixProcess{cmd: cmd}, nil
}

type unixConsole struct {
	ptmx *os.File

	mu  sync.Mutex
	tty *os.File
}

func (c *unixConsole) Reader() io.Reader { return c.ptmx }
func (c *unixConsole) Writer() io.Writer { return c.ptmx }

func (c *unixConsole) Resize(size Size) error {
	return ptylib.Setsize(c.ptmx, &ptylib.Winsize{Rows: size.Rows, Cols: size.Cols})
}

func (c *unixConsole) Close() error {
	c.mu.Lock()
	if c.tty != nil {
		c.tty.Close()
		c.tty = nil
	}
	c.mu.Unlock()
	return c.ptmx.Close()
}

type unixProcess struct {
	cmd *exec.Cmd
}

func (p *unixProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *unixProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero status or a signal is a normal way for a shell to end.
		return code, nil
	}
	return code, err
}

func (p *unixProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *unixProcess) Kill() error {
	return p.cmd.Process.Kill()
}
