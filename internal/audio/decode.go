package audio

import (
	"encoding/binary"
	"math"
)

// sampleDecoder converts little-endian float32 bytes into samples. A
// trailing partial sample is kept and completed by the next call instead of
// being discarded.
type sampleDecoder struct {
	rem [4]byte
	n   int
}

func (d *sampleDecoder) decode(dst []float32, p []byte) []float32 {
	if d.n > 0 {
		need := len(d.rem) - d.n
		if len(p) < need {
			d.n += copy(d.rem[d.n:], p)
			return dst
		}
		copy(d.rem[d.n:], p[:need])
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(d.rem[:])))
		p = p[need:]
		d.n = 0
	}
	for len(p) >= 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(p)))
		p = p[4:]
	}
	d.n = copy(d.rem[:], p)
	return dst
}

// pending returns the number of buffered bytes of an incomplete sample.
func (d *sampleDecoder) pending() int {
	return d.n
}

// downmixInterleaved averages interleaved frames into a new mono slice.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	return downmixInto(make([]float32, frames), input, channels)
}

// downmixInto averages interleaved frames into dst, which must hold at least
// len(input)/channels samples, and returns the filled prefix.
func downmixInto(dst, input []float32, channels int) []float32 {
	if channels <= 1 {
		n := copy(dst, input)
		return dst[:n]
	}
	frames := len(input) / channels
	if frames > len(dst) {
		frames = len(dst)
	}
	div := float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		for _, s := range input[i*channels : (i+1)*channels] {
			sum += s
		}
		dst[i] = sum / div
	}
	return dst[:frames]
}
