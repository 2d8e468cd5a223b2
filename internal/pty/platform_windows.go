//go:build windows

package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

func nativePlatform() Platform {
	return conPlatform{}
}

// conPlatform drives the Windows pseudo console API. One pseudo console can
// host several CreateProcess attempts, so a failed candidate leaves the
// device usable for the next one.
type conPlatform struct{}

func (conPlatform) OpenPTY(size Size) (Console, error) {
	var inRead, inWrite windows.Handle
	if err := windows.CreatePipe(&inRead, &inWrite, nil, 0); err != nil {
		return nil, err
	}

	var outRead, outWrite windows.Handle
	if err := windows.CreatePipe(&outRead, &outWrite, nil, 0); err != nil {
		windows.CloseHandle(inRead)
		windows.CloseHandle(inWrite)
		return nil, err
	}

	var hpc windows.Handle
	if err := windows.CreatePseudoConsole(coord(size), inRead, outWrite, 0, &hpc); err != nil {
		windows.CloseHandle(inRead)
		windows.CloseHandle(inWrite)
		windows.CloseHandle(outRead)
		windows.CloseHandle(outWrite)
		return nil, err
	}

	// The pseudo console duplicated its ends of the pipes.
	windows.CloseHandle(inRead)
	windows.CloseHandle(outWrite)

	return &conConsole{
		hpc: hpc,
		in:  os.NewFile(uintptr(inWrite), "conpty-input"),
		out: os.NewFile(uintptr(outRead), "conpty-output"),
	}, nil
}

func (conPlatform) SpawnShell(console Console, spec LaunchSpec) (Process, error) {
	c, ok := console.(*conConsole)
	if !ok {
		return nil, errors.New("console was not opened by this platform")
	}

	path, err := exec.LookPath(spec.Candidate.Program)
	if err != nil {
		return nil, err
	}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return nil, err
	}
	defer attrs.Delete()

	if err := attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE,
		unsafe.Pointer(c.hpc),
		unsafe.Sizeof(c.hpc),
	); err != nil {
		return nil, err
	}

	si := new(windows.StartupInfoEx)
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.Flags |= windows.STARTF_USESTDHANDLES
	si.ProcThreadAttributeList = attrs.List()

	appName, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	args := append([]string{path}, spec.Candidate.Args...)
	cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(args))
	if err != nil {
		return nil, err
	}

	var dir *uint16
	if spec.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(spec.Dir); err != nil {
			return nil, err
		}
	}

	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		appName,
		cmdLine,
		nil,
		nil,
		false,
		windows.EXTENDED_STARTUPINFO_PRESENT|windows.CREATE_UNICODE_ENVIRONMENT,
		envBlock(spec.Env),
		dir,
		&si.StartupInfo,
		&pi,
	)
	if err != nil {
		return nil, err
	}
	windows.CloseHandle(pi.Thread)

	return &conProcess{
		handle:  pi.Process,
		pid:     int(pi.ProcessId),
		console: c,
	}, nil
}

type conConsole struct {
	hpc     windows.Handle
	in      *os.File
	out     *os.File
	release sync.Once
	close   sync.Once
}

func (c *conConsole) Reader() io.Reader { return c.out }
func (c *conConsole) Writer() io.Writer { return c.in }

func (c *conConsole) Resize(size Size) error {
	return windows.ResizePseudoConsole(c.hpc, coord(size))
}

// releaseDevice closes the pseudo console. Output written before the call is
// flushed to the output pipe, after which reads observe end of stream.
func (c *conConsole) releaseDevice() {
	c.release.Do(func() {
		windows.ClosePseudoConsole(c.hpc)
	})
}

func (c *conConsole) Close() error {
	var err error
	c.close.Do(func() {
		c.releaseDevice()
		err = errors.Join(c.in.Close(), c.out.Close())
	})
	return err
}

type conProcess struct {
	handle  windows.Handle
	pid     int
	console *conConsole
	mu      sync.Mutex
	reaped  atomic.Bool
}

func (p *conProcess) Pid() int {
	return p.pid
}

func (p *conProcess) Wait() (int, error) {
	if _, err := windows.WaitForSingleObject(p.handle, windows.INFINITE); err != nil {
		return -1, err
	}

	var code uint32
	err := windows.GetExitCodeProcess(p.handle, &code)

	// Unlike a POSIX pty, the output pipe stays open after the shell exits
	// until the pseudo console itself is closed.
	p.console.releaseDevice()

	p.mu.Lock()
	p.reaped.Store(true)
	windows.CloseHandle(p.handle)
	p.mu.Unlock()

	if err != nil {
		return -1, err
	}
	return int(code), nil
}

func (p *conProcess) Terminate() error {
	return p.Kill()
}

func (p *conProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reaped.Load() {
		return os.ErrProcessDone
	}
	return windows.TerminateProcess(p.handle, 1)
}

func coord(size Size) windows.Coord {
	return windows.Coord{X: int16(size.Cols), Y: int16(size.Rows)}
}

// envBlock encodes env as a double-NUL terminated UTF-16 block. A nil result
// makes the child inherit the parent environment.
func envBlock(env []string) *uint16 {
	if len(env) == 0 {
		return nil
	}
	var block []uint16
	for _, kv := range env {
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	block = append(block, 0)
	return &block[0]
}
