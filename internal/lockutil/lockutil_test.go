package lockutil

import (
	"testing"

	"github.com/bbbhvac/hvaccore/internal/herr"
)

func TestAcquireRelease(t *testing.T) {
	m := New()
	if err := m.Acquire(nil); err != nil {
		t.Fatalf("Acquire on unheld mutex failed: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestReleaseWithoutAcquireFails(t *testing.T) {
	m := New()
	err := m.Release()
	if err == nil {
		t.Fatal("expected error releasing an unheld mutex")
	}
	if !herr.Is(err, herr.CodeLockError) {
		t.Fatalf("expected CodeLockError, got %v", err)
	}
}

func TestAcquireAbortsOnPredicate(t *testing.T) {
	m := New()
	if err := m.Acquire(nil); err != nil {
		t.Fatalf("initial acquire failed: %v", err)
	}
	// Mutex is now held by "another owner"; a second Acquire must abort
	// quickly once the predicate trips instead of exhausting all retries.
	calls := 0
	err := m.Acquire(func() bool {
		calls++
		return calls > 2
	})
	if err == nil {
		t.Fatal("expected acquire to fail while mutex is held")
	}
	if calls < 3 {
		t.Fatalf("expected predicate to be polled at least 3 times, got %d", calls)
	}
}

func TestWithLockRunsAndReleases(t *testing.T) {
	m := New()
	ran := false
	if err := m.WithLock(nil, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	// Mutex should be free again.
	if err := m.Acquire(nil); err != nil {
		t.Fatalf("expected mutex free after WithLock, got: %v", err)
	}
}
