package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	tests := []struct {
		name      string
		attempts  int
		failures  int  // fn fails this many times, then succeeds
		permanent bool // wrap failures in Permanent
		wantCalls int
		wantErr   error
	}{
		{name: "first try", attempts: 3, failures: 0, wantCalls: 1},
		{name: "succeeds on third", attempts: 3, failures: 2, wantCalls: 3},
		{name: "exhausted", attempts: 3, failures: 5, wantCalls: 3, wantErr: transient},
		{name: "permanent stops immediately", attempts: 5, failures: 5, permanent: true, wantCalls: 1, wantErr: fatal},
		{name: "zero attempts rounds up to one", attempts: 0, failures: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			err := Do(context.Background(), tt.attempts, time.Millisecond, func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(fatal)
					}
					return transient
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDo_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, time.Second, func() error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancel fired during first backoff)", calls)
	}
}

func TestPermanentUnwraps(t *testing.T) {
	inner := errors.New("inner")
	if !errors.Is(Permanent(inner), inner) {
		t.Fatal("Permanent should unwrap to the original error")
	}
}

func TestJitteredBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jittered(d)
		if got < 75*time.Millisecond || got > 125*time.Millisecond {
			t.Fatalf("jittered(%v) = %v, outside [75ms, 125ms]", d, got)
		}
	}
}
