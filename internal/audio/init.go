package audio

import (
	"fmt"
	"time"
)

// initResult is the one-shot message a capture goroutine sends once the
// hardware format is known or setup failed.
type initResult[T any] struct {
	val T
	err error
}

// awaitInit waits up to timeout for the capture goroutine's init result.
// On timeout a late successful result is passed to release, if non-nil, so
// the hardware is not leaked.
func awaitInit[T any](ch <-chan initResult[T], timeout time.Duration, release func(T)) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-timer.C:
		if release != nil {
			go func() {
				if r := <-ch; r.err == nil {
					release(r.val)
				}
			}()
		}
		var zero T
		return zero, fmt.Errorf("%w after %s", ErrInitTimeout, timeout)
	}
}
