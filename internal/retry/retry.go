// Package retry implements bounded retries with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks a failure that must not be retried, such as a
// rejected request that would fail the same way every time.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error { return &PermanentError{Err: err} }

// Do runs fn until it succeeds, up to maxAttempts times. The wait between
// attempts starts at baseDelay and doubles each round, with +-25% jitter so
// concurrent callers spread out. A *PermanentError or a cancelled ctx ends
// the loop early; the permanent case returns the unwrapped error.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}
}

// jittered spreads d uniformly over [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	spread := d / 4
	if spread <= 0 {
		return d
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.LittleEndian.Uint64(b[:]) % uint64(2*spread+1)
	return d - spread + time.Duration(n)
}
