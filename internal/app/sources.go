package app

import (
	"github.com/rs/zerolog"

	"github.com/petems/speechgate/internal/audio"
)

// Sources holds the platform capture backends. A backend that failed to
// initialize is nil.
type Sources struct {
	Microphone audio.Source
	System     audio.Source

	mic *audio.MicrophoneSource
}

// OpenSources initializes the microphone and loopback backends of this
// platform. Failures are logged; the caller decides whether a missing
// backend matters.
func OpenSources(log zerolog.Logger) *Sources {
	s := &Sources{}

	if mic, err := audio.NewMicrophoneSource(log); err != nil {
		log.Warn().Err(err).Msg("Microphone capture unavailable")
	} else {
		s.mic = mic
		s.Microphone = mic
	}

	if sys, err := audio.NewSystemSource(log); err != nil {
		log.Warn().Err(err).Msg("System audio capture unavailable")
	} else {
		s.System = sys
	}
	return s
}

// Directory returns a device directory over the open backends.
func (s *Sources) Directory() audio.Directory {
	return audio.Directory{Input: s.Microphone, Output: s.System}
}

// Close releases backend resources.
func (s *Sources) Close() error {
	if s.mic != nil {
		return s.mic.Close()
	}
	return nil
}
