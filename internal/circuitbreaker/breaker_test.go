package circuitbreaker

import (
	"testing"
	"time"
)

func trip(b *Breaker, key string, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure(key)
	}
}

func TestTripsAtThreshold(t *testing.T) {
	b := New(3, time.Minute)

	if !b.Allow("access_server") {
		t.Fatal("fresh key must be allowed")
	}

	trip(b, "access_server", 2)
	if !b.Allow("access_server") {
		t.Fatal("still below threshold, must allow")
	}

	b.RecordFailure("access_server")
	if b.Allow("access_server") {
		t.Fatal("third failure must open the circuit")
	}
	if got := b.State("access_server"); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
}

func TestProbeAfterCoolOff(t *testing.T) {
	b := New(2, 30*time.Millisecond)
	trip(b, "access_server", 2)

	if b.Allow("access_server") {
		t.Fatal("must reject while open")
	}

	time.Sleep(40 * time.Millisecond)

	if !b.Allow("access_server") {
		t.Fatal("cool-off elapsed, must admit one probe")
	}
	if got := b.State("access_server"); got != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", got)
	}
	if b.Allow("access_server") {
		t.Fatal("only one probe may be in flight")
	}
}

func TestProbeOutcome(t *testing.T) {
	tests := []struct {
		name      string
		succeed   bool
		wantState State
		wantAllow bool
	}{
		{name: "success closes", succeed: true, wantState: StateClosed, wantAllow: true},
		{name: "failure reopens", succeed: false, wantState: StateOpen, wantAllow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(2, 30*time.Millisecond)
			trip(b, "access_server", 2)
			time.Sleep(40 * time.Millisecond)
			b.Allow("access_server") // moves to half-open

			if tt.succeed {
				b.RecordSuccess("access_server")
			} else {
				b.RecordFailure("access_server")
			}
			if got := b.State("access_server"); got != tt.wantState {
				t.Fatalf("state = %v, want %v", got, tt.wantState)
			}
			if got := b.Allow("access_server"); got != tt.wantAllow {
				t.Fatalf("Allow = %v, want %v", got, tt.wantAllow)
			}
		})
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)
	trip(b, "access_server", 2)
	b.RecordSuccess("access_server")

	// The streak restarted, so one more failure is not enough to trip.
	b.RecordFailure("access_server")
	if !b.Allow("access_server") {
		t.Fatal("circuit should still be closed after the count reset")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(2, time.Minute)
	trip(b, "daraja", 2)

	if b.Allow("daraja") {
		t.Fatal("daraja should be open")
	}
	if !b.Allow("access_server") {
		t.Fatal("other keys must be unaffected")
	}
	if got := b.State("access_server"); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
