package execution

import (
	"testing"
	"time"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	policy := DefaultStalePolicy()

	runningSince := func(ago time.Duration, events ...Event) *Execution {
		return &Execution{
			ID:        "e1",
			SkillName: "deploy",
			Status:    StatusRunning,
			StartTime: now.Add(-ago),
			Events:    events,
		}
	}

	cases := []struct {
		name string
		exec *Execution
		want bool
	}{
		{
			name: "over absolute ceiling regardless of recent events",
			exec: runningSince(31*time.Minute, Event{Kind: EventStepStart, Timestamp: now.Add(-time.Minute)}),
			want: true,
		},
		{
			name: "young run with impossibly old last event",
			exec: runningSince(2*time.Minute, Event{Kind: EventStepStart, Timestamp: now.Add(-11 * time.Minute)}),
			want: true,
		},
		{
			name: "healthy run with fresh event",
			exec: runningSince(5*time.Minute, Event{Kind: EventStepStart, Timestamp: now.Add(-time.Minute)}),
			want: false,
		},
		{
			name: "young run with no events is not judged by the gap",
			exec: runningSince(15 * time.Minute),
			want: false,
		},
		{
			name: "terminal execution is never stale",
			exec: &Execution{Status: StatusFailed, StartTime: now.Add(-2 * time.Hour)},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.IsStale(tc.exec, now); got != tc.want {
				t.Fatalf("IsStale = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsStaleDisabledCeilings(t *testing.T) {
	now := time.Now()
	exec := &Execution{
		Status:    StatusRunning,
		StartTime: now.Add(-24 * time.Hour),
		Events:    []Event{{Timestamp: now.Add(-23 * time.Hour)}},
	}
	policy := StalePolicy{}
	if policy.IsStale(exec, now) {
		t.Fatal("zero ceilings must disable staleness entirely")
	}
}
