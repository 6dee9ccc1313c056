package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// maxMicChannels caps the channels opened on an input device; anything
// wider is downmixed anyway.
const maxMicChannels = 2

// MicrophoneSource captures input devices through PortAudio. Delivery runs
// on PortAudio's own callback thread.
type MicrophoneSource struct {
	log zerolog.Logger
}

// NewMicrophoneSource initializes PortAudio. Call Close when done.
func NewMicrophoneSource(log zerolog.Logger) (*MicrophoneSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &MicrophoneSource{
		log: log.With().Str("source", string(Microphone)).Logger(),
	}, nil
}

func (m *MicrophoneSource) Kind() Kind {
	return Microphone
}

// Devices lists input-capable devices. PortAudio has no stable device uid,
// so the device name is used as its id.
func (m *MicrophoneSource) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices)+1)
	result = append(result, defaultEntry(Microphone))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}
	return result, nil
}

// Open starts capturing from the named input device.
func (m *MicrophoneSource) Open(deviceID string, opts StreamOptions) (Stream, error) {
	opts = opts.withDefaults()

	device, err := m.resolve(deviceID)
	if err != nil {
		return nil, err
	}

	channels := device.MaxInputChannels
	if channels > maxMicChannels {
		channels = maxMicChannels
	}

	state := newStreamState(opts.QueueCapacity)
	s := &micStream{
		streamState: state,
		log:         m.log,
	}
	state.prod = newProducer(state.ring, opts.OverflowLimit, m.log, state.fail)

	// 100 ms per callback, matching the pipeline chunk duration.
	frames := int(device.DefaultSampleRate / 10)
	scratch := make([]float32, frames)

	callback := func(in []float32) {
		mono := downmixInto(scratch, in, channels)
		state.prod.push(mono)
	}

	ch := make(chan initResult[*portaudio.Stream], 1)
	go func() {
		stream, err := openInputStream(device, channels, frames, callback)
		ch <- initResult[*portaudio.Stream]{val: stream, err: err}
	}()

	stream, err := awaitInit(ch, opts.InitTimeout, func(late *portaudio.Stream) {
		late.Stop()
		late.Close()
	})
	if err != nil {
		m.log.Error().Err(err).Str("device", device.Name).Msg("Microphone initialization failed")
		return nil, err
	}

	s.stream = stream
	state.rate = int(stream.Info().SampleRate)
	if state.rate <= 0 {
		state.rate = int(device.DefaultSampleRate)
	}

	m.log.Info().
		Str("device", device.Name).
		Int("sample_rate", state.rate).
		Int("channels", channels).
		Msg("Microphone stream started")

	return s, nil
}

// Close terminates PortAudio.
func (m *MicrophoneSource) Close() error {
	return portaudio.Terminate()
}

func (m *MicrophoneSource) resolve(deviceID string) (*portaudio.DeviceInfo, error) {
	if !IsDefaultID(deviceID) {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		for _, d := range devices {
			if d.Name == deviceID && d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		m.log.Warn().Str("device", deviceID).Msg("Requested microphone not found, using default")
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return device, nil
}

func openInputStream(device *portaudio.DeviceInfo, channels, frames int, callback func([]float32)) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: frames,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return stream, nil
}

type micStream struct {
	*streamState
	stream *portaudio.Stream
	log    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("failed to stop audio stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("failed to close audio stream: %w", err)
		}
		s.log.Info().Msg("Microphone stream closed")
	})
	return s.closeErr
}
