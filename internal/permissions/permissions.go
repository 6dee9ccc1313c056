// Package permissions checks OS privacy permissions needed before audio
// capture can start.
package permissions

import (
	"errors"
	"fmt"
)

// Status mirrors the platform authorization states.
type Status int

const (
	NotDetermined Status = 0
	Restricted    Status = 1
	Denied        Status = 2
	Authorized    Status = 3
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrMicrophoneDenied is returned when microphone capture is not authorized.
var ErrMicrophoneDenied = errors.New("permissions: microphone access not granted")

// microphoneError maps a status to the error returned by EnsureMicrophone.
// requested reports whether a prompt was just shown.
func microphoneError(s Status, requested bool) error {
	switch s {
	case Authorized:
		return nil
	case NotDetermined:
		if requested {
			return fmt.Errorf("%w: answer the system prompt and start again", ErrMicrophoneDenied)
		}
		return ErrMicrophoneDenied
	default:
		return fmt.Errorf("%w (%s): enable it in System Settings > Privacy & Security > Microphone", ErrMicrophoneDenied, s)
	}
}
