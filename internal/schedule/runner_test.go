package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/rankwatch/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegister_Idempotent(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(s)

	if err := r.Register("submit", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("submit", 30); err != nil {
		t.Fatalf("Register again: %v", err)
	}

	list, err := r.Registered()
	if err != nil {
		t.Fatalf("Registered: %v", err)
	}
	if len(list) != 1 || list[0].IntervalMinutes != 5 {
		t.Errorf("registrations = %+v, want one at 5 minutes", list)
	}
}

func TestRegister_RejectsNonPositiveInterval(t *testing.T) {
	r := NewRunner(openTestStore(t))
	if err := r.Register("fetch", 0); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestDeregister(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(s)

	if err := r.Register("fetch", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Deregister("fetch"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if err := r.Deregister("never-registered"); err != nil {
		t.Fatalf("Deregister unknown: %v", err)
	}
	list, _ := r.Registered()
	if len(list) != 0 {
		t.Errorf("registrations = %+v, want none", list)
	}
}

// TestStart_InstallsPersistedTicks simulates a restart: registrations saved
// by one runner are installed by the next one on Start.
func TestStart_InstallsPersistedTicks(t *testing.T) {
	s := openTestStore(t)
	if err := NewRunner(s).Register("submit", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r := NewRunner(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	next, ok := r.NextRun("submit")
	if !ok {
		t.Fatal("submit tick not installed")
	}
	if d := time.Until(next); d <= 0 || d > 5*time.Minute+time.Second {
		t.Errorf("next run in %v, want within 5m", d)
	}

	if err := r.Register("fetch", 1); err != nil {
		t.Fatalf("Register while running: %v", err)
	}
	if _, ok := r.NextRun("fetch"); !ok {
		t.Error("fetch tick not installed while running")
	}

	if err := r.Deregister("submit"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := r.NextRun("submit"); ok {
		t.Error("submit tick still installed after deregister")
	}
}

func TestFire_CallsHandler(t *testing.T) {
	s := openTestStore(t)
	r := NewRunner(s)

	var calls atomic.Int32
	r.Handle("submit", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("logged, not returned")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	r.fire("submit")
	r.fire("unhandled")
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	cancel()
	r.fire("submit")
	if calls.Load() != 1 {
		t.Error("handler ran after context cancellation")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := NewRunner(openTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
