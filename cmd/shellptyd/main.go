package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PiranhaCodes/shellpty/internal/api"
	"github.com/PiranhaCodes/shellpty/internal/config"
	"github.com/PiranhaCodes/shellpty/internal/journal"
	"github.com/PiranhaCodes/shellpty/internal/pty"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfgpath := flag.String("config", "~/.shellpty/config.yml", "Path to configuration file")
	socketOverride := flag.String("socket", "", "Path to Unix socket (overrides config)")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfgPathExpanded, err := config.ExpandPath(*cfgpath)
	if err != nil {
		logger.WithError(err).Fatal("failed to expand config path")
	}

	cfg, err := config.Load(cfgPathExpanded)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	logger.SetLevel(cfg.Level())

	if *socketOverride != "" {
		if cfg.SocketPath, err = config.ExpandPath(*socketOverride); err != nil {
			logger.WithError(err).Fatal("failed to expand socket path")
		}
	}

	logger.WithFields(logrus.Fields{
		"config": cfgPathExpanded,
		"socket": cfg.SocketPath,
	}).Info("starting server")

	for _, dir := range []string{filepath.Dir(cfg.SocketPath), filepath.Dir(cfgPathExpanded)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.WithError(err).WithField("dir", dir).Fatal("failed to create directory")
		}
	}

	regOpts := []pty.Option{
		pty.WithLogger(logger),
		pty.WithEnv(cfg.Env),
		pty.WithWorkDir(cfg.WorkDir),
		pty.WithKillGrace(cfg.KillGrace),
	}
	if len(cfg.Shells) > 0 {
		regOpts = append(regOpts, pty.WithCandidates(cfg.Shells))
	}

	srvOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithTranscriptDir(cfg.TranscriptDir),
		api.WithDefaultSize(cfg.DefaultCols, cfg.DefaultRows),
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to open journal")
		}
		defer j.Close()
		regOpts = append(regOpts, pty.WithObserver(j))
		srvOpts = append(srvOpts, api.WithJournal(j))
	}

	registry := pty.NewRegistry(regOpts...)
	server := api.NewServer(cfg.SocketPath, registry, srvOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = config.Watch(ctx, cfgPathExpanded, logger, func(c config.Config) {
		logger.SetLevel(c.Level())
		registry.SetCandidates(c.Shells)
	})
	if err != nil {
		logger.WithError(err).Warn("config reload disabled")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server...")
	server.Stop()
	registry.Shutdown(shutdownTimeout)
	logger.Info("server shutdown complete")
}
