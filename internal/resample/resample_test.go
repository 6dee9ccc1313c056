package resample

import (
	"errors"
	"math"
	"testing"
)

func TestNewRejectsUnsupportedRates(t *testing.T) {
	for _, rate := range []float64{0, -48000, 100, math.NaN(), 10_000_000} {
		if _, err := New(rate); !errors.Is(err, ErrUnsupportedRate) {
			t.Errorf("rate %v: expected ErrUnsupportedRate, got %v", rate, err)
		}
	}
}

func TestSilenceStaysSilent(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		input int
	}{
		{name: "48kHz", rate: 48000, input: 4800},
		{name: "44.1kHz", rate: 44100, input: 4410},
		{name: "16kHz", rate: 16000, input: 1600},
		{name: "8kHz", rate: 8000, input: 800},
		{name: "odd length", rate: 48000, input: 4799},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.rate)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			out, err := c.Convert(make([]float32, tt.input))
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}

			want := float64(tt.input) * OutputRate / tt.rate
			if math.Abs(float64(len(out))-want) > 1 {
				t.Fatalf("expected about %.1f samples, got %d", want, len(out))
			}
			for i, s := range out {
				if s != 0 {
					t.Fatalf("sample %d: expected 0, got %d", i, s)
				}
			}
		})
	}
}

func TestConvertConstantSignal(t *testing.T) {
	for _, rate := range []float64{8000, 16000, 44100, 48000} {
		c, err := New(rate)
		if err != nil {
			t.Fatalf("New(%v): %v", rate, err)
		}
		in := make([]float32, int(rate/10))
		for i := range in {
			in[i] = 0.5
		}
		out, err := c.Convert(in)
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		if len(out) != 1600 {
			t.Fatalf("rate %v: expected 1600 samples for 100ms, got %d", rate, len(out))
		}
		for i, s := range out {
			if s != 16384 {
				t.Fatalf("rate %v sample %d: expected 16384, got %d", rate, i, s)
			}
		}
	}
}

func TestConvertIsDeterministic(t *testing.T) {
	c, err := New(44100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := make([]float32, 4410)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) * 2 * math.Pi * 440 / 44100))
	}

	first, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	second, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestOutputNeverExceedsCapacity(t *testing.T) {
	c, err := New(4000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, n := range []int{1, 2, 3, 17, 400, 4001} {
		out, err := c.Convert(make([]float32, n))
		if err != nil {
			t.Fatalf("Convert(%d): %v", n, err)
		}
		if len(out) != c.OutputLen(n) {
			t.Fatalf("n=%d: expected %d samples, got %d", n, c.OutputLen(n), len(out))
		}
		if cap(out) < len(out) || c.Capacity(n) < len(out) {
			t.Fatalf("n=%d: capacity %d below produced length %d", n, c.Capacity(n), len(out))
		}
	}
}

func TestConvertRejectsNonFinite(t *testing.T) {
	c, err := New(48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := []float32{0, 0.1, float32(math.NaN()), 0}
	if _, err := c.Convert(in); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
	in[2] = float32(math.Inf(1))
	if _, err := c.Convert(in); !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample for +Inf, got %v", err)
	}
}

func TestConvertEmpty(t *testing.T) {
	c, err := New(48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := c.Convert(nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty output, got %v, %v", out, err)
	}
}

func TestQuantizeClips(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2.5, 32767},
		{-3, -32767},
		{0.5, 16384},
	}
	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
