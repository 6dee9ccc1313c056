package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petems/speechgate/internal/audio"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %q", cfg.LogLevel)
	}
	if cfg.Audio.MicrophoneDeviceID != audio.DefaultDeviceID || cfg.Audio.SystemDeviceID != audio.DefaultDeviceID {
		t.Errorf("expected default devices, got %+v", cfg.Audio)
	}
	if cfg.Capture.ChunkDuration != 100*time.Millisecond {
		t.Errorf("expected 100ms chunks, got %s", cfg.Capture.ChunkDuration)
	}
	if cfg.Capture.QueueCapacity != 131072 {
		t.Errorf("expected queue capacity 131072, got %d", cfg.Capture.QueueCapacity)
	}
	if cfg.Capture.OverflowLimit != 50 {
		t.Errorf("expected overflow limit 50, got %d", cfg.Capture.OverflowLimit)
	}

	mic := cfg.MicrophoneGate()
	if mic.StartRMS != 100 || mic.EndRMS != 50 || mic.Hangover != 500*time.Millisecond || mic.PrerollChunks != 3 {
		t.Errorf("unexpected microphone gate %+v", mic)
	}
	if got := cfg.SystemGate().PrerollChunks; got != 20 {
		t.Errorf("expected system pre-roll 20, got %d", got)
	}
	if cfg.Path() != path {
		t.Errorf("expected path %q, got %q", path, cfg.Path())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: debug
audio:
  microphone_device_id: "USB Audio"
  system: false
capture:
  chunk_duration: 50ms
vad:
  start_rms: 300
  end_rms: 120
  hangover: 1s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %q", cfg.LogLevel)
	}
	if cfg.Audio.MicrophoneDeviceID != "USB Audio" {
		t.Errorf("unexpected microphone device %q", cfg.Audio.MicrophoneDeviceID)
	}
	if cfg.Audio.System {
		t.Error("expected system capture to be disabled")
	}
	if !cfg.Audio.Microphone {
		t.Error("expected microphone capture default to survive")
	}
	if cfg.Capture.ChunkDuration != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %s", cfg.Capture.ChunkDuration)
	}
	if cfg.VAD.StartRMS != 300 || cfg.VAD.EndRMS != 120 || cfg.VAD.Hangover != time.Second {
		t.Errorf("unexpected vad config %+v", cfg.VAD)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPEECHGATE_VAD_START_RMS", "250")
	t.Setenv("SPEECHGATE_VAD_HANGOVER", "750ms")
	t.Setenv("SPEECHGATE_AUDIO_SYSTEM_DEVICE_ID", "monitor-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.VAD.StartRMS != 250 {
		t.Errorf("expected start_rms 250, got %f", cfg.VAD.StartRMS)
	}
	if cfg.VAD.Hangover != 750*time.Millisecond {
		t.Errorf("expected 750ms hangover, got %s", cfg.VAD.Hangover)
	}
	if got := cfg.DeviceID(audio.SystemAudio); got != "monitor-1" {
		t.Errorf("expected monitor-1, got %q", got)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"start below end", func(c *Config) { c.VAD.StartRMS = 40 }},
		{"equal thresholds", func(c *Config) { c.VAD.EndRMS = c.VAD.StartRMS }},
		{"negative preroll", func(c *Config) { c.VAD.SystemPreroll = -1 }},
		{"zero chunk duration", func(c *Config) { c.Capture.ChunkDuration = 0 }},
		{"zero poll interval", func(c *Config) { c.Capture.PollInterval = 0 }},
		{"zero queue", func(c *Config) { c.Capture.QueueCapacity = 0 }},
		{"zero overflow limit", func(c *Config) { c.Capture.OverflowLimit = 0 }},
		{"zero read timeout", func(c *Config) { c.Capture.ReadTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.SetDeviceID(audio.Microphone, "Headset")
	cfg.SetDeviceID(audio.SystemAudio, "Speakers")
	cfg.VAD.Hangover = 800 * time.Millisecond
	cfg.Sink.WAVDir = "/tmp/rec"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.DeviceID(audio.Microphone) != "Headset" || loaded.DeviceID(audio.SystemAudio) != "Speakers" {
		t.Errorf("device ids not persisted: %+v", loaded.Audio)
	}
	if loaded.VAD.Hangover != 800*time.Millisecond {
		t.Errorf("expected 800ms hangover, got %s", loaded.VAD.Hangover)
	}
	if loaded.Sink.WAVDir != "/tmp/rec" {
		t.Errorf("expected wav dir to persist, got %q", loaded.Sink.WAVDir)
	}
	if loaded.Capture.QueueCapacity != cfg.Capture.QueueCapacity {
		t.Errorf("queue capacity changed: %d != %d", loaded.Capture.QueueCapacity, cfg.Capture.QueueCapacity)
	}
}
