package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/vad"
)

// EnvPrefix is prepended to environment overrides, e.g. SPEECHGATE_VAD_START_RMS.
const EnvPrefix = "SPEECHGATE"

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Audio    AudioConfig   `mapstructure:"audio"`
	Capture  CaptureConfig `mapstructure:"capture"`
	VAD      VADConfig     `mapstructure:"vad"`
	Sink     SinkConfig    `mapstructure:"sink"`
	Metrics  MetricsConfig `mapstructure:"metrics"`

	path string
}

type AudioConfig struct {
	MicrophoneDeviceID string `mapstructure:"microphone_device_id"`
	SystemDeviceID     string `mapstructure:"system_device_id"`
	Microphone         bool   `mapstructure:"microphone"` // capture the microphone
	System             bool   `mapstructure:"system"`     // capture system output
}

type CaptureConfig struct {
	ChunkDuration time.Duration `mapstructure:"chunk_duration"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	OverflowLimit int           `mapstructure:"overflow_limit"`
	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

type VADConfig struct {
	StartRMS          float64       `mapstructure:"start_rms"`
	EndRMS            float64       `mapstructure:"end_rms"`
	Hangover          time.Duration `mapstructure:"hangover"`
	MicrophonePreroll int           `mapstructure:"microphone_preroll"`
	SystemPreroll     int           `mapstructure:"system_preroll"`
}

type SinkConfig struct {
	WAVDir       string `mapstructure:"wav_dir"`
	WebSocketURL string `mapstructure:"websocket_url"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("audio.microphone_device_id", audio.DefaultDeviceID)
	v.SetDefault("audio.system_device_id", audio.DefaultDeviceID)
	v.SetDefault("audio.microphone", true)
	v.SetDefault("audio.system", true)

	v.SetDefault("capture.chunk_duration", 100*time.Millisecond)
	v.SetDefault("capture.poll_interval", 5*time.Millisecond)
	v.SetDefault("capture.queue_capacity", audio.DefaultQueueCapacity)
	v.SetDefault("capture.overflow_limit", audio.DefaultOverflowLimit)
	v.SetDefault("capture.init_timeout", audio.DefaultInitTimeout)
	v.SetDefault("capture.read_timeout", audio.DefaultReadTimeout)

	v.SetDefault("vad.start_rms", vad.DefaultStartRMS)
	v.SetDefault("vad.end_rms", vad.DefaultEndRMS)
	v.SetDefault("vad.hangover", vad.DefaultHangover)
	v.SetDefault("vad.microphone_preroll", vad.MicrophonePrerollChunks)
	v.SetDefault("vad.system_preroll", vad.SystemAudioPrerollChunks)

	v.SetDefault("sink.wav_dir", "")
	v.SetDefault("sink.websocket_url", "")

	v.SetDefault("metrics.listen_addr", "")
}

// Load reads the config file at path, or config.{json,yaml} in the platform
// config directory when path is empty, and applies SPEECHGATE_* environment
// overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.path = v.ConfigFileUsed()
	if cfg.path == "" {
		cfg.path = path
	}
	if cfg.path == "" {
		cfg.path = filepath.Join(configDir(), "config.json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Capture.ChunkDuration <= 0 {
		return errors.New("capture.chunk_duration must be positive")
	}
	if c.Capture.PollInterval <= 0 {
		return errors.New("capture.poll_interval must be positive")
	}
	if c.Capture.QueueCapacity <= 0 {
		return errors.New("capture.queue_capacity must be positive")
	}
	if c.Capture.OverflowLimit <= 0 {
		return errors.New("capture.overflow_limit must be positive")
	}
	if c.Capture.InitTimeout <= 0 || c.Capture.ReadTimeout <= 0 {
		return errors.New("capture timeouts must be positive")
	}
	for _, g := range []vad.Config{c.MicrophoneGate(), c.SystemGate()} {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MicrophoneGate returns the gate settings for microphone streams.
func (c *Config) MicrophoneGate() vad.Config {
	return vad.Config{
		StartRMS:      c.VAD.StartRMS,
		EndRMS:        c.VAD.EndRMS,
		Hangover:      c.VAD.Hangover,
		PrerollChunks: c.VAD.MicrophonePreroll,
	}
}

// SystemGate returns the gate settings for system audio streams.
func (c *Config) SystemGate() vad.Config {
	g := c.MicrophoneGate()
	g.PrerollChunks = c.VAD.SystemPreroll
	return g
}

// StreamOptions returns the hardware stream settings.
func (c *Config) StreamOptions() audio.StreamOptions {
	return audio.StreamOptions{
		QueueCapacity: c.Capture.QueueCapacity,
		OverflowLimit: c.Capture.OverflowLimit,
		InitTimeout:   c.Capture.InitTimeout,
		ReadTimeout:   c.Capture.ReadTimeout,
	}
}

// DeviceID returns the configured device for kind.
func (c *Config) DeviceID(kind audio.Kind) string {
	if kind == audio.SystemAudio {
		return c.Audio.SystemDeviceID
	}
	return c.Audio.MicrophoneDeviceID
}

// SetDeviceID records the device chosen for kind.
func (c *Config) SetDeviceID(kind audio.Kind, id string) {
	if kind == audio.SystemAudio {
		c.Audio.SystemDeviceID = id
		return
	}
	c.Audio.MicrophoneDeviceID = id
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config to its file. The format follows the extension.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = filepath.Join(configDir(), "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	for key, val := range c.settings() {
		v.Set(key, val)
	}
	return v.WriteConfigAs(path)
}

// settings flattens the config into viper keys; durations are written in
// their string form so the file stays readable.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"log_level":                  c.LogLevel,
		"audio.microphone_device_id": c.Audio.MicrophoneDeviceID,
		"audio.system_device_id":     c.Audio.SystemDeviceID,
		"audio.microphone":           c.Audio.Microphone,
		"audio.system":               c.Audio.System,
		"capture.chunk_duration":     c.Capture.ChunkDuration.String(),
		"capture.poll_interval":      c.Capture.PollInterval.String(),
		"capture.queue_capacity":     c.Capture.QueueCapacity,
		"capture.overflow_limit":     c.Capture.OverflowLimit,
		"capture.init_timeout":       c.Capture.InitTimeout.String(),
		"capture.read_timeout":       c.Capture.ReadTimeout.String(),
		"vad.start_rms":              c.VAD.StartRMS,
		"vad.end_rms":                c.VAD.EndRMS,
		"vad.hangover":               c.VAD.Hangover.String(),
		"vad.microphone_preroll":     c.VAD.MicrophonePreroll,
		"vad.system_preroll":         c.VAD.SystemPreroll,
		"sink.wav_dir":               c.Sink.WAVDir,
		"sink.websocket_url":         c.Sink.WebSocketURL,
		"metrics.listen_addr":        c.Metrics.ListenAddr,
	}
}

// configDir returns the platform-specific config directory
func configDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "speechgate")
}

// RecordingsPath returns the default directory for WAV recordings.
func RecordingsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "speechgate", "recordings")
}
