// Package resample converts mono float32 audio at a hardware sample rate to
// mono 16-bit PCM at the fixed pipeline rate.
package resample

import (
	"errors"
	"fmt"
	"math"
)

// OutputRate is the sample rate of every converted chunk.
const OutputRate = 16000

// Supported input range. Anything outside it is not a real capture device.
const (
	MinInputRate = 4000
	MaxInputRate = 768000
)

var (
	// ErrUnsupportedRate is returned by New for input rates the converter
	// cannot handle.
	ErrUnsupportedRate = errors.New("resample: unsupported input sample rate")
	// ErrInvalidSample is returned by Convert when the input holds NaN or
	// infinite values.
	ErrInvalidSample = errors.New("resample: non-finite input sample")
)

// Converter turns float32 samples at InputRate into int16 samples at
// OutputRate. Each Convert call is self-contained: no filter state is
// carried from one call to the next.
type Converter struct {
	inputRate float64
	step      float64 // input samples per output sample
}

// New creates a converter for the given input rate.
func New(inputRate float64) (*Converter, error) {
	if math.IsNaN(inputRate) || inputRate < MinInputRate || inputRate > MaxInputRate {
		return nil, fmt.Errorf("%w: %v Hz", ErrUnsupportedRate, inputRate)
	}
	return &Converter{
		inputRate: inputRate,
		step:      inputRate / OutputRate,
	}, nil
}

// InputRate returns the rate the converter was built for.
func (c *Converter) InputRate() float64 {
	return c.inputRate
}

// OutputLen returns how many samples Convert produces for n input samples.
func (c *Converter) OutputLen(n int) int {
	return int(math.Round(float64(n) * OutputRate / c.inputRate))
}

// Capacity returns the buffer size reserved for n input samples. It is
// deliberately larger than OutputLen so the output is never truncated.
func (c *Converter) Capacity(n int) int {
	return int(float64(n)*OutputRate/c.inputRate*2) + 100
}

// Convert resamples samples to OutputRate and quantizes them to int16.
// The returned slice holds exactly the produced samples.
func (c *Converter) Convert(samples []float32) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidSample, i)
		}
	}

	n := c.OutputLen(len(samples))
	out := make([]int16, 0, c.Capacity(len(samples)))

	switch {
	case c.step == 1:
		for _, s := range samples {
			out = append(out, Quantize(s))
		}
	case c.step > 1:
		out = c.decimate(out, samples, n)
	default:
		out = c.interpolate(out, samples, n)
	}
	return out, nil
}

// decimate averages the input samples covered by each output sample.
func (c *Converter) decimate(out []int16, samples []float32, n int) []int16 {
	last := len(samples)
	for i := 0; i < n; i++ {
		start := int(float64(i) * c.step)
		end := int(math.Ceil(float64(i+1) * c.step))
		if end > last {
			end = last
		}
		if start >= end {
			out = append(out, Quantize(samples[last-1]))
			continue
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out = append(out, Quantize(float32(sum/float64(end-start))))
	}
	return out
}

// interpolate draws each output sample on the line between its two
// neighbouring input samples.
func (c *Converter) interpolate(out []int16, samples []float32, n int) []int16 {
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * c.step
		idx := int(pos)
		if idx >= last {
			out = append(out, Quantize(samples[last]))
			continue
		}
		frac := pos - float64(idx)
		s := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out = append(out, Quantize(float32(s)))
	}
	return out
}

// Quantize maps a float sample in [-1, 1] to int16, clipping values
// outside that range.
func Quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * math.MaxInt16))
}
