package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	var fired atomic.Int32
	w := New(path, 10*time.Millisecond, func() { fired.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("change never detected")
	}
}

func TestNoRefireWithoutMtimeAdvance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var fired atomic.Int32
	w := New(path, time.Hour, func() { fired.Add(1) })
	// Not started: drive checks by hand for determinism.

	w.Poke()
	if fired.Load() != 1 {
		t.Fatalf("first poke fired %d times, want 1", fired.Load())
	}

	// Same mtime: strict greater-than comparison suppresses a refire.
	w.Poke()
	w.Poke()
	if fired.Load() != 1 {
		t.Fatalf("redundant pokes refired, count %d", fired.Load())
	}

	// Advance the mtime and it fires again.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	w.Poke()
	if fired.Load() != 2 {
		t.Fatalf("mtime advance not detected, count %d", fired.Load())
	}
}

func TestMissingFileIsQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	var fired atomic.Int32
	w := New(path, 10*time.Millisecond, func() { fired.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("callback fired for a file that never existed")
	}
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	var fired atomic.Int32
	w := New(path, 10*time.Millisecond, func() { fired.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()

	before := fired.Load()
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != before {
		t.Fatal("callback fired after Stop")
	}
}
