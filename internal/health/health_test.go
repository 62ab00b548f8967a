package health

import (
	"context"
	"sync"
	"testing"
)

func checker(healthy bool, detail string) Checker {
	return func(_ context.Context) Status {
		return Status{Healthy: healthy, Detail: detail}
	}
}

func TestCheckAll(t *testing.T) {
	tests := []struct {
		name        string
		checkers    map[string]Checker
		wantHealthy bool
	}{
		{name: "empty registry is healthy", checkers: nil, wantHealthy: true},
		{
			name: "all passing",
			checkers: map[string]Checker{
				"database": checker(true, ""),
				"realtime": checker(true, "3 clients"),
			},
			wantHealthy: true,
		},
		{
			name: "one failure degrades the whole",
			checkers: map[string]Checker{
				"database": checker(false, "connection refused"),
				"realtime": checker(true, ""),
			},
			wantHealthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, c := range tt.checkers {
				r.Register(name, c)
			}
			healthy, statuses := r.CheckAll(context.Background())
			if healthy != tt.wantHealthy {
				t.Errorf("healthy = %v, want %v", healthy, tt.wantHealthy)
			}
			if len(statuses) != len(tt.checkers) {
				t.Fatalf("got %d statuses, want %d", len(statuses), len(tt.checkers))
			}
		})
	}
}

func TestCheckAllOrderedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("realtime", checker(true, ""))
	r.Register("database", checker(false, "down"))

	_, statuses := r.CheckAll(context.Background())
	if statuses[0].Name != "database" || statuses[1].Name != "realtime" {
		t.Fatalf("statuses not sorted: %+v", statuses)
	}
	if statuses[0].Detail != "down" {
		t.Fatalf("detail = %q, want %q", statuses[0].Detail, "down")
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("database", checker(false, ""))
	r.Register("database", checker(true, ""))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Fatalf("healthy = %v, statuses = %d; re-register should replace", healthy, len(statuses))
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("worker", checker(true, ""))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
