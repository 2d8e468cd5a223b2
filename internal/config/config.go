// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/PiranhaCodes/shellpty/internal/pty"
)

// Config is the daemon configuration. Paths may start with "~".
type Config struct {
	SocketPath    string          `yaml:"socket_path"`
	TranscriptDir string          `yaml:"transcript_dir"`
	JournalPath   string          `yaml:"journal_path"`
	LogLevel      string          `yaml:"log_level"`
	DefaultCols   int             `yaml:"default_cols"`
	DefaultRows   int             `yaml:"default_rows"`
	WorkDir       string          `yaml:"work_dir"`
	Env           []string        `yaml:"env"`
	Shells        []pty.Candidate `yaml:"shells"`
	KillGrace     time.Duration   `yaml:"kill_grace"`
}

// DefaultConfig returns the configuration used when no file exists.
// An empty Shells list means the platform default chain.
func DefaultConfig() Config {
	return Config{
		SocketPath:    "~/.shellpty/pty.sock",
		TranscriptDir: "~/.shellpty/sessions",
		JournalPath:   "~/.shellpty/journal.db",
		LogLevel:      "info",
		DefaultCols:   80,
		DefaultRows:   24,
		KillGrace:     pty.DefaultKillGrace,
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.expand(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks geometry, log level, kill grace and the shell list.
func (c Config) Validate() error {
	if _, err := pty.NewSize(c.DefaultCols, c.DefaultRows); err != nil {
		return fmt.Errorf("default size %dx%d: %w", c.DefaultCols, c.DefaultRows, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.KillGrace < 0 {
		return fmt.Errorf("kill_grace must not be negative, got %s", c.KillGrace)
	}
	if c.SocketPath == "" {
		return errors.New("socket_path is required")
	}
	for i, sh := range c.Shells {
		if sh.Program == "" {
			return fmt.Errorf("shells[%d]: program is required", i)
		}
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c *Config) expand() error {
	for _, p := range []*string{&c.SocketPath, &c.TranscriptDir, &c.JournalPath, &c.WorkDir} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ExpandPath expands a leading tilde (~) to the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) == 0 {
		return path, nil
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if len(path) == 1 {
			return homeDir, nil
		}
		if path[1] == '/' || path[1] == '\\' {
			return filepath.Join(homeDir, path[2:]), nil
		}
	}

	return path, nil
}
