//go:build !windows && !linux

package audio

import "github.com/rs/zerolog"

// unsupportedLoopback is the system audio source on platforms without a
// loopback backend. It lists only the default entry and never opens.
type unsupportedLoopback struct{}

// NewSystemSource returns the loopback source for this platform.
func NewSystemSource(log zerolog.Logger) (Source, error) {
	log.Debug().Msg("System audio capture is not supported on this platform")
	return unsupportedLoopback{}, nil
}

func (unsupportedLoopback) Kind() Kind { return SystemAudio }

func (unsupportedLoopback) Devices() ([]Device, error) {
	return []Device{defaultEntry(SystemAudio)}, nil
}

func (unsupportedLoopback) Open(string, StreamOptions) (Stream, error) {
	return nil, ErrUnsupported
}
