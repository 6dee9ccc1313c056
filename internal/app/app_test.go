package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/config"
	"github.com/petems/speechgate/internal/ringbuf"
)

// Mock implementations for testing
type mockStream struct {
	rate int
	ring *ringbuf.Ring[float32]
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (m *mockStream) SampleRate() int                 { return m.rate }
func (m *mockStream) Samples() *ringbuf.Ring[float32] { return m.ring }
func (m *mockStream) Done() <-chan struct{}           { return m.done }
func (m *mockStream) Dropped() uint64                 { return 0 }

func (m *mockStream) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStream) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	close(m.done)
}

type mockSource struct {
	kind    audio.Kind
	openErr error

	mu      sync.Mutex
	streams []*mockStream
	devices []string
}

func (m *mockSource) Kind() audio.Kind { return m.kind }

func (m *mockSource) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: "usb", Name: "USB"}}, nil
}

func (m *mockSource) Open(deviceID string, _ audio.StreamOptions) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &mockStream{
		rate: 16000,
		ring: ringbuf.New[float32](32000),
		done: make(chan struct{}),
	}
	m.streams = append(m.streams, s)
	m.devices = append(m.devices, deviceID)
	return s, nil
}

func (m *mockSource) last() *mockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type mockStatus struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockStatus) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, s)
}

func (m *mockStatus) SetIdle()      { m.record("idle") }
func (m *mockStatus) SetRecording() { m.record("recording") }
func (m *mockStatus) SetSpeech()    { m.record("speech") }
func (m *mockStatus) SetError()     { m.record("error") }

func (m *mockStatus) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Capture.PollInterval = time.Millisecond
	return cfg
}

func newTestApp(t *testing.T, mic, sys *mockSource, status *mockStatus) (*App, *config.Config) {
	t.Helper()
	cfg := loadConfig(t)
	c := Config{
		Config:          cfg,
		Logger:          zerolog.Nop(),
		CheckMicrophone: func() error { return nil },
	}
	if mic != nil {
		c.Microphone = mic
	}
	if sys != nil {
		c.System = sys
	}
	if status != nil {
		c.StatusUpdater = status
	}
	a := New(c)
	t.Cleanup(func() { a.Stop() })
	return a, cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestToggleStartsAndStopsBothSources(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	sys := &mockSource{kind: audio.SystemAudio}
	status := &mockStatus{}
	a, _ := newTestApp(t, mic, sys, status)

	// Initially not capturing
	if a.IsCapturing() {
		t.Error("App should not be capturing initially")
	}

	if err := a.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !a.IsCapturing() {
		t.Fatal("App should be capturing after first toggle")
	}
	if got := len(a.Stats()); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
	if status.last() != "recording" {
		t.Errorf("expected recording status, got %q", status.last())
	}

	if err := a.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if a.IsCapturing() {
		t.Fatal("App should have stopped after second toggle")
	}
	if !mic.last().closed || !sys.last().closed {
		t.Error("expected both streams to be released")
	}
	if status.last() != "idle" {
		t.Errorf("expected idle status, got %q", status.last())
	}
}

func TestStartSkipsFailingSource(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	sys := &mockSource{kind: audio.SystemAudio, openErr: audio.ErrUnsupported}
	a, _ := newTestApp(t, mic, sys, nil)

	if err := a.Start(); err != nil {
		t.Fatalf("expected start with one working source, got %v", err)
	}
	stats := a.Stats()
	if len(stats) != 1 || stats[0].Kind != audio.Microphone {
		t.Fatalf("expected only the microphone session, got %+v", stats)
	}
}

func TestStartFailsWhenNoSourceStarts(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone, openErr: audio.ErrDeviceUnavailable}
	sys := &mockSource{kind: audio.SystemAudio, openErr: audio.ErrUnsupported}
	status := &mockStatus{}
	a, _ := newTestApp(t, mic, sys, status)

	err := a.Start()
	if !errors.Is(err, audio.ErrDeviceUnavailable) || !errors.Is(err, audio.ErrUnsupported) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if a.IsCapturing() {
		t.Fatal("App should not be capturing")
	}
	if status.last() != "error" {
		t.Errorf("expected error status, got %q", status.last())
	}
}

func TestMicrophonePermissionDenied(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	cfg := loadConfig(t)
	denied := errors.New("denied")

	a := New(Config{
		Microphone:      mic,
		Config:          cfg,
		Logger:          zerolog.Nop(),
		CheckMicrophone: func() error { return denied },
	})

	if err := a.Start(); !errors.Is(err, denied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if mic.last() != nil {
		t.Fatal("microphone must not be opened without permission")
	}
}

func TestDisabledSourceIsNotOpened(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	sys := &mockSource{kind: audio.SystemAudio}
	a, cfg := newTestApp(t, mic, sys, nil)
	cfg.Audio.System = false

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sys.last() != nil {
		t.Fatal("disabled system source was opened")
	}
	if a.Enabled(audio.SystemAudio) {
		t.Fatal("expected system source to report disabled")
	}
}

func TestConfiguredDeviceIsOpened(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	a, cfg := newTestApp(t, mic, nil, nil)
	cfg.SetDeviceID(audio.Microphone, "usb")

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mic.devices[0] != "usb" {
		t.Fatalf("expected usb device, got %q", mic.devices[0])
	}
}

func TestStatusFollowsSpeech(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	status := &mockStatus{}
	a, _ := newTestApp(t, mic, nil, status)

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 0.5
	}
	mic.last().ring.Push(loud)

	waitFor(t, "speech status", func() bool { return status.last() == "speech" })
}

func TestStatusReportsFailedSource(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	status := &mockStatus{}
	a, _ := newTestApp(t, mic, nil, status)

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic.last().fail(audio.ErrOverflow)

	waitFor(t, "error status", func() bool { return status.last() == "error" })
}

func TestSetDeviceRejectedWhileCapturing(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	a, cfg := newTestApp(t, mic, nil, nil)

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.SetDevice(audio.Microphone, "usb"); err == nil {
		t.Fatal("expected error while capturing")
	}

	a.Stop()
	if err := a.SetDevice(audio.Microphone, "usb"); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	if a.DeviceID(audio.Microphone) != "usb" {
		t.Fatalf("device not updated")
	}
	if _, err := os.Stat(cfg.Path()); err != nil {
		t.Fatalf("expected config to be saved: %v", err)
	}
}

func TestSetEnabledPersists(t *testing.T) {
	a, cfg := newTestApp(t, &mockSource{kind: audio.Microphone}, &mockSource{kind: audio.SystemAudio}, nil)

	if err := a.SetEnabled(audio.SystemAudio, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	reloaded, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Audio.System {
		t.Fatal("expected system capture disabled after reload")
	}
}

func TestListDevicesAddsDefaultEntry(t *testing.T) {
	a, _ := newTestApp(t, &mockSource{kind: audio.Microphone}, nil, nil)

	mics, err := a.ListDevices(audio.Microphone)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(mics) != 2 || mics[0].ID != audio.DefaultDeviceID || mics[1].ID != "usb" {
		t.Fatalf("unexpected microphones %+v", mics)
	}

	outputs, err := a.ListDevices(audio.SystemAudio)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Name != "Default System Audio" {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
}

func TestSinkFactoryReceivesSessions(t *testing.T) {
	mic := &mockSource{kind: audio.Microphone}
	cfg := loadConfig(t)

	var mu sync.Mutex
	var chunks int
	released := 0
	a := New(Config{
		Microphone:      mic,
		Config:          cfg,
		Logger:          zerolog.Nop(),
		CheckMicrophone: func() error { return nil },
		Sinks: func(kind audio.Kind, id string) (capture.Sink, func() error, error) {
			return capture.SinkFunc(func([]byte) error {
					mu.Lock()
					chunks++
					mu.Unlock()
					return nil
				}), func() error {
					mu.Lock()
					released++
					mu.Unlock()
					return nil
				}, nil
		},
	})

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = -0.5
	}
	mic.last().ring.Push(loud)
	waitFor(t, "chunk", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return chunks == 1
	})

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if released != 1 {
		t.Fatalf("expected sink released once, got %d", released)
	}
}
