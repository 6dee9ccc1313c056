package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/permissions"
	"github.com/petems/speechgate/internal/vad"
)

// statusInterval is how often the monitor samples session state.
const statusInterval = 200 * time.Millisecond

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetSpeech()
	SetError()
}

type Config struct {
	Microphone    audio.Source // nil disables microphone capture
	System        audio.Source // nil disables system audio capture
	Sinks         SinkFactory
	Observer      capture.Observer
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil

	// CheckMicrophone runs before a microphone session opens. Defaults to
	// permissions.EnsureMicrophone.
	CheckMicrophone func() error
}

// App runs one capture session per enabled source and reports their state.
type App struct {
	sources  map[audio.Kind]audio.Source
	sinks    SinkFactory
	obs      capture.Observer
	cfg      *config.Config
	log      zerolog.Logger
	status   StatusUpdater
	checkMic func() error

	mu        sync.Mutex
	capturing bool
	sessions  []*running
	stop      chan struct{}
	monitor   sync.WaitGroup
}

type running struct {
	session *capture.Session
	release func() error
}

func New(cfg Config) *App {
	sources := make(map[audio.Kind]audio.Source)
	if cfg.Microphone != nil {
		sources[audio.Microphone] = cfg.Microphone
	}
	if cfg.System != nil {
		sources[audio.SystemAudio] = cfg.System
	}
	check := cfg.CheckMicrophone
	if check == nil {
		check = permissions.EnsureMicrophone
	}
	sinks := cfg.Sinks
	if sinks == nil {
		sinks = DiscardSinks
	}
	return &App{
		sources:  sources,
		sinks:    sinks,
		obs:      cfg.Observer,
		cfg:      cfg.Config,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		checkMic: check,
	}
}

// Start opens a session for every enabled source. Sources that fail are
// logged and skipped; Start fails only if none could start.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked()
}

// Stop ends all sessions. It is safe to call when not capturing.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

// Toggle starts capture when idle and stops it otherwise.
func (a *App) Toggle() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return a.stopLocked()
	}
	return a.startLocked()
}

func (a *App) startLocked() error {
	if a.capturing {
		return nil
	}

	a.log.Info().Msg("Starting capture")

	var errs []error
	for _, kind := range []audio.Kind{audio.Microphone, audio.SystemAudio} {
		if !a.enabled(kind) {
			continue
		}
		r, err := a.startSession(kind)
		if err != nil {
			a.log.Error().Err(err).Str("source", string(kind)).Msg("Failed to start capture source")
			errs = append(errs, err)
			continue
		}
		a.sessions = append(a.sessions, r)
	}

	if len(a.sessions) == 0 {
		if a.status != nil {
			a.status.SetError()
		}
		if len(errs) == 0 {
			return errors.New("no capture source enabled")
		}
		return errors.Join(errs...)
	}

	a.capturing = true
	a.stop = make(chan struct{})
	a.monitor.Add(1)
	go a.watch(a.stop, a.sessions)

	if a.status != nil {
		a.status.SetRecording()
	}
	return nil
}

func (a *App) enabled(kind audio.Kind) bool {
	if _, ok := a.sources[kind]; !ok {
		return false
	}
	if kind == audio.SystemAudio {
		return a.cfg.Audio.System
	}
	return a.cfg.Audio.Microphone
}

func (a *App) startSession(kind audio.Kind) (*running, error) {
	if kind == audio.Microphone {
		if err := a.checkMic(); err != nil {
			return nil, err
		}
	}

	gate := a.cfg.MicrophoneGate()
	if kind == audio.SystemAudio {
		gate = a.cfg.SystemGate()
	}

	session, err := capture.New(a.sources[kind], capture.Options{
		DeviceID:      a.cfg.DeviceID(kind),
		ChunkDuration: a.cfg.Capture.ChunkDuration,
		PollInterval:  a.cfg.Capture.PollInterval,
		Gate:          gate,
		Stream:        a.cfg.StreamOptions(),
		Logger:        a.log,
		Observer:      a.obs,
	})
	if err != nil {
		return nil, err
	}

	sink, release, err := a.sinks(kind, session.ID())
	if err != nil {
		session.Stop()
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}
	if err := session.Start(sink); err != nil {
		session.Stop()
		release()
		return nil, err
	}
	return &running{session: session, release: release}, nil
}

func (a *App) stopLocked() error {
	if !a.capturing {
		return nil
	}

	a.log.Info().Msg("Stopping capture")
	close(a.stop)
	a.monitor.Wait()

	var errs []error
	for _, r := range a.sessions {
		if err := r.session.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := r.release(); err != nil {
			errs = append(errs, err)
		}
	}
	a.sessions = nil
	a.capturing = false

	if a.status != nil {
		a.status.SetIdle()
	}
	return errors.Join(errs...)
}

// watch maps session state to the status indicator until stop is closed.
func (a *App) watch(stop <-chan struct{}, sessions []*running) {
	defer a.monitor.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	failed := make(map[string]bool)
	last := ""
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		speech := false
		alive := 0
		for _, r := range sessions {
			st := r.session.Stats()
			if !st.Running {
				if !failed[st.SessionID] {
					failed[st.SessionID] = true
					a.log.Error().Err(r.session.Err()).Str("source", string(st.Kind)).Msg("Capture source stopped")
				}
				continue
			}
			alive++
			if st.GateState != vad.Idle {
				speech = true
			}
		}

		next := "recording"
		switch {
		case alive == 0:
			next = "error"
		case speech:
			next = "speech"
		}
		if next == last || a.status == nil {
			last = next
			continue
		}
		last = next
		switch next {
		case "error":
			a.status.SetError()
		case "speech":
			a.status.SetSpeech()
		default:
			a.status.SetRecording()
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- a.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tray actions

// SetDevice selects the device for kind and persists it.
func (a *App) SetDevice(kind audio.Kind, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return fmt.Errorf("cannot change device while capturing")
	}

	a.cfg.SetDeviceID(kind, id)
	return a.cfg.Save()
}

// SetEnabled turns capture of kind on or off and persists it.
func (a *App) SetEnabled(kind audio.Kind, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return fmt.Errorf("cannot change sources while capturing")
	}

	if kind == audio.SystemAudio {
		a.cfg.Audio.System = on
	} else {
		a.cfg.Audio.Microphone = on
	}
	return a.cfg.Save()
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}

// DeviceID returns the configured device for kind.
func (a *App) DeviceID(kind audio.Kind) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.DeviceID(kind)
}

// Enabled reports whether kind is configured and available.
func (a *App) Enabled(kind audio.Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled(kind)
}

// ListDevices lists devices of kind, default entry first.
func (a *App) ListDevices(kind audio.Kind) ([]audio.Device, error) {
	dir := audio.Directory{
		Input:  a.sources[audio.Microphone],
		Output: a.sources[audio.SystemAudio],
	}
	if kind == audio.SystemAudio {
		return dir.OutputDevices()
	}
	return dir.InputDevices()
}

// Stats returns a snapshot of every running session.
func (a *App) Stats() []capture.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]capture.Stats, 0, len(a.sessions))
	for _, r := range a.sessions {
		out = append(out, r.session.Stats())
	}
	return out
}
