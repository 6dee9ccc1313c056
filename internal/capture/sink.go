package capture

import (
	"encoding/binary"

	"github.com/petems/speechgate/internal/audio"
	"github.com/petems/speechgate/internal/vad"
)

// Sink receives gated chunks as little-endian 16-bit PCM, mono, 16 kHz, one
// call per chunk in capture order. The buffer belongs to the sink.
//
// WriteChunk runs on the session worker. A slow sink delays the worker and,
// once the queue fills, the capture itself.
type Sink interface {
	WriteChunk(pcm []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(pcm []byte) error

func (f SinkFunc) WriteChunk(pcm []byte) error {
	return f(pcm)
}

// EncodePCM appends samples to dst as little-endian int16.
func EncodePCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// DecodePCM is the inverse of EncodePCM. A trailing odd byte is ignored.
func DecodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Observer is notified of pipeline events. Methods are called from the
// session worker and must not block.
type Observer interface {
	SamplesCaptured(kind audio.Kind, n int)
	ChunkEmitted(kind audio.Kind, bytes int)
	ChunkSuppressed(kind audio.Kind)
	ConvertError(kind audio.Kind)
	SinkError(kind audio.Kind)
	GateChanged(kind audio.Kind, state vad.State, rms float64)
	StreamFailed(kind audio.Kind, err error)
}

type nopObserver struct{}

func (nopObserver) SamplesCaptured(audio.Kind, int)            {}
func (nopObserver) ChunkEmitted(audio.Kind, int)               {}
func (nopObserver) ChunkSuppressed(audio.Kind)                 {}
func (nopObserver) ConvertError(audio.Kind)                    {}
func (nopObserver) SinkError(audio.Kind)                       {}
func (nopObserver) GateChanged(audio.Kind, vad.State, float64) {}
func (nopObserver) StreamFailed(audio.Kind, error)             {}
