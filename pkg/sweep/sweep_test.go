package sweep

import (
	"sync/atomic"
	"testing"
	"time"
)

type countingClearer struct {
	calls atomic.Int64
}

func (c *countingClearer) ClearStale() (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestIntervalSweepFires(t *testing.T) {
	clearer := &countingClearer{}
	s := New("", 20*time.Millisecond, clearer)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for clearer.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", clearer.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestUnconfiguredSweeperIsInert(t *testing.T) {
	clearer := &countingClearer{}
	s := New("", 0, clearer)
	s.Start()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if n := clearer.calls.Load(); n != 0 {
		t.Fatalf("inert sweeper ran %d times", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New("", 10*time.Millisecond, &countingClearer{})
	s.Start()
	s.Stop()
	s.Stop()
}

func TestCronModeIgnoresInterval(t *testing.T) {
	clearer := &countingClearer{}
	// A valid expression that is due at most once a minute; the short
	// interval must not be used as the tick in cron mode.
	s := New("0 0 1 1 *", 10*time.Millisecond, clearer)
	s.Start()

	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if n := clearer.calls.Load(); n != 0 {
		t.Fatalf("cron sweeper fired %d times off-schedule", n)
	}
}
