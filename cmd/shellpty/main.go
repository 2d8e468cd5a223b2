package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/PiranhaCodes/shellpty/internal/api"
	"github.com/PiranhaCodes/shellpty/internal/config"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

const usage = `usage: shellpty [-socket path] <command> [args]

commands:
  spawn [-id id] [-cols n] [-rows n]   start a session and print its id
  write [-n] <id> <text>               send text (plus a newline unless -n)
  resize <id> <cols> <rows>            change the terminal size
  kill <id>                            stop a session
  list                                 show sessions
  history [-limit n] [id]              show journal entries
  attach <id>                          connect this terminal (Ctrl-] detaches)
`

var log = logrus.New()

func main() {
	socketPathRaw := flag.String("socket", "~/.shellpty/pty.sock", "Path to Unix socket")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	socketPath, err := config.ExpandPath(*socketPathRaw)
	if err != nil {
		log.WithError(err).Fatal("failed to expand socket path")
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client := api.NewClient(socketPath)
	ctx := context.Background()

	switch args[0] {
	case "spawn":
		err = runSpawn(ctx, client, args[1:])
	case "write":
		err = runWrite(ctx, client, args[1:])
	case "resize":
		err = runResize(ctx, client, args[1:])
	case "kill":
		if len(args) != 2 {
			err = fmt.Errorf("kill takes a session id")
			break
		}
		err = client.Kill(ctx, args[1])
	case "list":
		err = runList(ctx, client)
	case "history":
		err = runHistory(ctx, client, args[1:])
	case "attach":
		if len(args) != 2 {
			err = fmt.Errorf("attach takes a session id")
			break
		}
		err = runAttach(client, args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Error(args[0])
		os.Exit(1)
	}
}

func runSpawn(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	id := fs.String("id", "", "session id (generated when empty)")
	cols := fs.Int("cols", 0, "columns (server default when 0)")
	rows := fs.Int("rows", 0, "rows (server default when 0)")
	fs.Parse(args)

	resp, err := client.Spawn(ctx, api.SpawnRequest{ID: *id, Cols: *cols, Rows: *rows})
	if err != nil {
		return err
	}
	fmt.Println(resp.ID)
	log.WithFields(logrus.Fields{"program": resp.Program, "pid": resp.Pid}).Debug("spawned")
	return nil
}

func runWrite(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	noNewline := fs.Bool("n", false, "do not append a newline")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("write takes a session id and text")
	}
	text := fs.Arg(1)
	if !*noNewline {
		text += "\n"
	}
	return client.Write(ctx, fs.Arg(0), text)
}

func runResize(ctx context.Context, client *api.Client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("resize takes a session id, cols and rows")
	}
	cols, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid cols: %w", err)
	}
	rows, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rows: %w", err)
	}
	return client.Resize(ctx, args[0], cols, rows)
}

func runList(ctx context.Context, client *api.Client) error {
	resp, err := client.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRAM\tPID\tSIZE")
	for _, s := range resp.Sessions {
		status := s.Status
		if s.ExitCode != nil {
			status = fmt.Sprintf("%s (%d)", status, *s.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dx%d\n", s.ID, status, s.Program, s.Pid, s.Cols, s.Rows)
	}
	return w.Flush()
}

func runHistory(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of entries")
	fs.Parse(args)

	resp, err := client.History(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tID\tEVENT\tPROGRAM\tPID\tEXIT")
	for _, ev := range resp.Events {
		exit := "-"
		if ev.ExitCode != nil {
			exit = strconv.Itoa(*ev.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			ev.Time.Format(time.RFC3339), ev.ID, ev.Event, ev.Program, ev.Pid, exit)
	}
	return w.Flush()
}

// runAttach puts the local terminal in raw mode, forwards keystrokes and
// keeps the remote size in step with the local one.
func runAttach(client *api.Client, id string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdin := int(os.Stdin.Fd())
	if term.IsTerminal(stdin) {
		state, err := term.MakeRaw(stdin)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer term.Restore(stdin, state)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	go followSize(ctx, client, id)
	go forwardInput(ctx, cancel, client, id)

	err := client.Attach(ctx, id, func(data string) {
		os.Stdout.WriteString(data)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func forwardInput(ctx context.Context, cancel context.CancelFunc, client *api.Client, id string) {
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			detach := false
			if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
				chunk = chunk[:i]
				detach = true
			}
			if len(chunk) > 0 {
				if werr := client.WriteBytes(ctx, id, chunk); werr != nil {
					cancel()
					return
				}
			}
			if detach {
				cancel()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// followSize polls the local terminal size; there is no portable resize
// signal.
func followSize(ctx context.Context, client *api.Client, id string) {
	stdout := int(os.Stdout.Fd())
	if !term.IsTerminal(stdout) {
		return
	}

	lastCols, lastRows := 0, 0
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		cols, rows, err := term.GetSize(stdout)
		if err == nil && (cols != lastCols || rows != lastRows) {
			if client.Resize(ctx, id, cols, rows) == nil {
				lastCols, lastRows = cols, rows
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
