package execution

import "time"

// StalePolicy classifies running executions as dead. An execution is stale
// when it has run past MaxRunDuration outright, or when its log has been
// silent for longer than MaxEventGap. The gap check only applies once at
// least one event exists; a run that never logged anything is judged by the
// absolute ceiling alone.
type StalePolicy struct {
	MaxRunDuration time.Duration
	MaxEventGap    time.Duration
}

// DefaultStalePolicy mirrors the runner's own watchdog expectations: no
// healthy skill runs half an hour, and no healthy step is silent for ten
// minutes.
func DefaultStalePolicy() StalePolicy {
	return StalePolicy{
		MaxRunDuration: 30 * time.Minute,
		MaxEventGap:    10 * time.Minute,
	}
}

// IsStale reports whether the execution should be treated as dead at `now`.
// Terminal executions are never stale.
func (p StalePolicy) IsStale(exec *Execution, now time.Time) bool {
	if exec.Status != StatusRunning {
		return false
	}
	if p.MaxRunDuration > 0 && now.Sub(exec.StartTime) > p.MaxRunDuration {
		return true
	}
	if p.MaxEventGap > 0 {
		if last, ok := exec.LastEventTime(); ok && now.Sub(last) > p.MaxEventGap {
			return true
		}
	}
	return false
}
