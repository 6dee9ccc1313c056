// Package sink provides destinations for gated speech chunks.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/speechgate/internal/capture"
	"github.com/petems/speechgate/internal/resample"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink: closed")

// WAV records chunks to a 16-bit mono 16 kHz WAV file. Chunks are written
// back to back, so silence removed by the gate is absent from the file.
type WAV struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	path   string
	closed bool
	frames int
}

// NewWAV creates the file at path, replacing any existing one.
func NewWAV(path string) (*WAV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return &WAV{
		file: f,
		enc:  wav.NewEncoder(f, resample.OutputRate, 16, 1, 1),
		path: path,
	}, nil
}

// WAVPath builds a recording file name for a session in dir.
func WAVPath(dir, source, sessionID string, now time.Time) string {
	name := fmt.Sprintf("%s-%s-%s.wav", source, now.Format("20060102-150405"), shortID(sessionID))
	return filepath.Join(dir, name)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Path returns the file being written.
func (w *WAV) Path() string {
	return w.path
}

// Frames returns the number of samples written so far.
func (w *WAV) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *WAV) WriteChunk(pcm []byte) error {
	samples := capture.DecodePCM(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  resample.OutputRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav chunk: %w", err)
	}
	w.frames += len(data)
	return nil
}

// Close finalizes the WAV header and closes the file.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize wav: %w", encErr)
	}
	return fileErr
}
