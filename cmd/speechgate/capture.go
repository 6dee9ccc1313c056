package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petems/speechgate/internal/app"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/logging"
	"github.com/petems/speechgate/internal/metrics"
)

var (
	captureMic      bool
	captureSystem   bool
	captureWAVDir   string
	captureWSURL    string
	captureMetrics  string
	captureDuration time.Duration
	statsInterval   time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture audio and forward speech chunks",
	Long: `Capture opens the configured microphone and system audio devices and forwards
gated 16 kHz PCM chunks to a WAV recording and/or a WebSocket endpoint until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyCaptureFlags(cmd, cfg)

		log := logging.NewWithLevel(cfg.LogLevel)
		return runCapture(cmd.Context(), cfg, log)
	},
}

func init() {
	f := captureCmd.Flags()
	f.BoolVar(&captureMic, "mic", true, "capture the microphone")
	f.BoolVar(&captureSystem, "system", true, "capture system audio")
	f.StringVar(&captureWAVDir, "wav", "", "directory for WAV recordings of forwarded speech")
	f.StringVar(&captureWSURL, "ws", "", "WebSocket URL to stream speech chunks to")
	f.StringVar(&captureMetrics, "metrics", "", "address to serve Prometheus metrics on, e.g. :9464")
	f.DurationVar(&captureDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.DurationVar(&statsInterval, "stats", 10*time.Second, "interval between stats log lines (0 disables)")
}

// applyCaptureFlags lets explicitly set flags override the config file.
func applyCaptureFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("mic") {
		cfg.Audio.Microphone = captureMic
	}
	if f.Changed("system") {
		cfg.Audio.System = captureSystem
	}
	if f.Changed("wav") {
		cfg.Sink.WAVDir = captureWAVDir
	}
	if f.Changed("ws") {
		cfg.Sink.WebSocketURL = captureWSURL
	}
	if f.Changed("metrics") {
		cfg.Metrics.ListenAddr = captureMetrics
	}
}

func runCapture(parent context.Context, cfg *config.Config, log zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if captureDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, captureDuration)
		defer cancel()
	}

	sources := app.OpenSources(log)
	defer sources.Close()

	m := metrics.New()
	application := app.New(app.Config{
		Microphone: sources.Microphone,
		System:     sources.System,
		Sinks:      app.NewSinks(cfg.Sink, log).Factory(),
		Observer:   m,
		Config:     cfg,
		Logger:     log,
	})

	if err := application.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	log.Info().Msg("Capturing, press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           metricsMux(m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					for _, st := range application.Stats() {
						log.Info().
							Str("source", string(st.Kind)).
							Bool("running", st.Running).
							Int("native_rate", st.NativeSampleRate).
							Uint64("emitted", st.ChunksEmitted).
							Uint64("suppressed", st.ChunksSuppressed).
							Uint64("dropped", st.DroppedSamples).
							Stringer("gate", st.GateState).
							Float64("rms", st.LastRMS).
							Msg("Capture stats")
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return application.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
