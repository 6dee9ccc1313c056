package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/speechgate/internal/app"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/logging"
	"github.com/petems/speechgate/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load("")
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize capture backends
	sources := app.OpenSources(log)
	defer sources.Close()

	// Record to disk when no sink is configured
	if cfg.Sink.WAVDir == "" && cfg.Sink.WebSocketURL == "" {
		cfg.Sink.WAVDir = config.RecordingsPath()
	}
	sinks := app.NewSinks(cfg.Sink, log)

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, log, Version, Commit) // App reference set below

	// Create app with tray as status updater
	application := app.New(app.Config{
		Microphone:    sources.Microphone,
		System:        sources.System,
		Sinks:         sinks.Factory(),
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	log.Info().Msg("SpeechGate starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}
}
