package registry

import (
	"testing"
	"time"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(nil)
	h, err := r.Register("BOARD1", KindSerialWorker)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if h.Tag != "BOARD1" {
		t.Fatalf("expected tag BOARD1, got %s", h.Tag)
	}
	got, ok := r.GetSerialWorker("BOARD1")
	if !ok || got != h {
		t.Fatal("expected GetSerialWorker to return the registered handle")
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("expected 1 active worker, got %d", r.ActiveCount())
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New(nil)
	if _, err := r.Register("BOARD1", KindGeneric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Register("BOARD1", KindGeneric); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestGetSerialWorkerExcludesGenericKind(t *testing.T) {
	r := New(nil)
	if _, err := r.Register("LOGIC", KindGeneric); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.GetSerialWorker("LOGIC"); ok {
		t.Fatal("expected generic-kind worker to not be returned by GetSerialWorker")
	}
}

func TestMarkDeadInvokesListener(t *testing.T) {
	r := New(nil)
	h, _ := r.Register("BOARD1", KindSerialWorker)
	var gotTag string
	var gotKind Kind
	done := make(chan struct{})
	r.SetDeathListener(func(tag string, kind Kind) {
		gotTag, gotKind = tag, kind
		close(done)
	})
	r.MarkDead(h.Tag)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for death listener")
	}
	if gotTag != "BOARD1" || gotKind != KindSerialWorker {
		t.Fatalf("unexpected listener args: tag=%s kind=%v", gotTag, gotKind)
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("expected 0 active workers after death, got %d", r.ActiveCount())
	}
}

func TestCleanupReapsDead(t *testing.T) {
	r := New(nil)
	h, _ := r.Register("BOARD1", KindSerialWorker)
	r.MarkDead(h.Tag)
	n := r.Cleanup()
	if n != 1 {
		t.Fatalf("expected Cleanup to report 1 reaped, got %d", n)
	}
	if n2 := r.Cleanup(); n2 != 0 {
		t.Fatalf("expected second Cleanup to report 0, got %d", n2)
	}
}

func TestStopAllWaitsForDoneAndReapsPromptly(t *testing.T) {
	r := New(nil)
	h, err := r.Register("W1", KindGeneric)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	go func() {
		for !h.StopRequested() {
			time.Sleep(time.Millisecond)
		}
		h.Done()
	}()

	start := time.Now()
	r.StopAll(time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("StopAll took too long: %v", elapsed)
	}
	if r.ActiveCount() != 0 {
		t.Fatal("expected no active workers after StopAll")
	}
}

func TestStopAllAbandonsSlowWorker(t *testing.T) {
	r := New(nil)
	h, err := r.Register("SLOW", KindGeneric)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_ = h // never calls Done; StopAll must not block forever

	start := time.Now()
	r.StopAll(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("StopAll did not honor the per-worker ceiling: %v", elapsed)
	}
}

func TestRegisterDuringStopAllFails(t *testing.T) {
	r := New(nil)
	h, _ := r.Register("W1", KindGeneric)

	blocking := make(chan struct{})
	go func() {
		<-blocking
		h.Done()
	}()

	go func() {
		r.StopAll(time.Second)
	}()

	// Give StopAll a moment to flip stoppingAll before we try to register.
	time.Sleep(10 * time.Millisecond)
	_, err := r.Register("W2", KindGeneric)
	close(blocking)
	if err == nil {
		t.Fatal("expected Register to fail while stop_all is in progress")
	}
}
