package sink

import (
	"errors"

	"github.com/petems/speechgate/internal/capture"
)

// Multi writes each chunk to every sink in order. All sinks are tried; the
// errors are joined.
func Multi(sinks ...capture.Sink) capture.Sink {
	return capture.SinkFunc(func(pcm []byte) error {
		var errs []error
		for _, s := range sinks {
			if err := s.WriteChunk(pcm); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Discard accepts and drops every chunk.
var Discard capture.Sink = capture.SinkFunc(func([]byte) error { return nil })
