package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiranhaCodes/shellpty/internal/pty"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".shellpty", "pty.sock"), cfg.SocketPath)
	assert.Equal(t, filepath.Join(home, ".shellpty", "sessions"), cfg.TranscriptDir)
	assert.Equal(t, 80, cfg.DefaultCols)
	assert.Equal(t, 24, cfg.DefaultRows)
	assert.Equal(t, pty.DefaultKillGrace, cfg.KillGrace)
	assert.Empty(t, cfg.Shells)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, `
socket_path: /tmp/custom.sock
log_level: debug
default_cols: 132
default_rows: 50
kill_grace: 750ms
env:
  - LANG=C.UTF-8
shells:
  - program: /bin/bash
    args: ["-i"]
  - program: /bin/sh
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 132, cfg.DefaultCols)
	assert.Equal(t, 50, cfg.DefaultRows)
	assert.Equal(t, 750*time.Millisecond, cfg.KillGrace)
	assert.Equal(t, []string{"LANG=C.UTF-8"}, cfg.Env)
	assert.Equal(t, []pty.Candidate{
		{Program: "/bin/bash", Args: []string{"-i"}},
		{Program: "/bin/sh"},
	}, cfg.Shells)

	// unset keys keep their defaults
	assert.NotEmpty(t, cfg.JournalPath)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "default_cols: [",
		"zero cols":     "default_cols: 0",
		"huge rows":     "default_rows: 70000",
		"bad level":     "log_level: loud",
		"empty program": "shells:\n  - args: [\"-i\"]",
		"negative kill": "kill_grace: -1s",
		"no socket":     "socket_path: \"\"",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yml")
			writeFile(t, path, content)

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_SizeErrorWrapsSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "default_cols: 0")

	_, err := Load(path)
	assert.ErrorIs(t, err, pty.ErrInvalidSize)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cases := map[string]string{
		"":            "",
		"~":           home,
		"~/x/y.sock":  filepath.Join(home, "x", "y.sock"),
		"/abs/path":   "/abs/path",
		"relative":    "relative",
		"~other/path": "~other/path",
	}
	for in, want := range cases {
		got, err := ExpandPath(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "default_cols: 80\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 16)
	require.NoError(t, Watch(ctx, path, logrus.New(), func(c Config) { reloaded <- c }))

	writeFile(t, path, "default_cols: 100\nshells:\n  - program: /bin/sh\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.DefaultCols != 100 {
				continue
			}
			assert.Equal(t, []pty.Candidate{{Program: "/bin/sh"}}, cfg.Shells)
			return
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}

func TestWatch_SkipsInvalidEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	writeFile(t, path, "default_cols: 80\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 16)
	require.NoError(t, Watch(ctx, path, nil, func(c Config) { reloaded <- c }))

	writeFile(t, path, "default_cols: 0\n")
	writeFile(t, filepath.Join(dir, "other.yml"), "default_cols: 90\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yml"), nil, func(Config) {})
	assert.Error(t, err)
}
