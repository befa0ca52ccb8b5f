// Package store holds the in-memory view of tracked executions. The shared
// file is the single ground truth: every reload replaces the whole map from
// the file's current content rather than merging, and lifecycle transitions
// are derived by diffing the previous snapshot against the new one.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/execution"
)

// LifecycleKind tags a transition derived during reload.
type LifecycleKind string

const (
	// LifecycleStarted fires the first time an id is seen with status
	// running. Executions that are already finished when first observed
	// (tracker started late) produce no started event.
	LifecycleStarted LifecycleKind = "started"
	// LifecycleCompleted fires once when a previously running id is next
	// seen with a terminal status.
	LifecycleCompleted LifecycleKind = "completed"
)

// LifecycleEvent is one observed transition, with a snapshot of the
// execution as of the reload that produced it.
type LifecycleEvent struct {
	Kind      LifecycleKind
	Execution *execution.Execution
}

// Summary is the lightweight per-execution projection for list views.
type Summary struct {
	ID               string           `json:"executionId"`
	SkillName        string           `json:"skillName"`
	Source           execution.Source `json:"source,omitempty"`
	SourceDetails    string           `json:"sourceDetails,omitempty"`
	Status           execution.Status `json:"status"`
	CurrentStepIndex int              `json:"currentStepIndex"`
	TotalSteps       int              `json:"totalSteps"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
	ElapsedMs        int64            `json:"elapsedMs"`
	EventCount       int              `json:"eventCount"`
}

// Store is safe for concurrent use; reloads are expected to be applied
// serially by the tracker's change handler.
type Store struct {
	mu       sync.RWMutex
	execs    map[string]*execution.Execution
	notified map[string]bool
	finished map[string]bool
	fp       string
	nowFn    func() time.Time
}

func New() *Store {
	return &Store{
		execs:    map[string]*execution.Execution{},
		notified: map[string]bool{},
		finished: map[string]bool{},
		nowFn:    time.Now,
	}
}

// WithNow injects a clock, used by tests.
func (s *Store) WithNow(nowFn func() time.Time) *Store {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Reload replaces the store wholesale from a freshly decoded state file and
// returns the lifecycle transitions this reload revealed. Reloading twice
// with identical content returns no transitions the second time.
func (s *Store) Reload(sf *execution.StateFile) []LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []LifecycleEvent
	next := make(map[string]*execution.Execution, len(sf.Executions))

	for id, exec := range sf.Executions {
		if exec == nil {
			continue
		}
		snapshot := exec.Clone()
		next[id] = snapshot

		if !s.notified[id] {
			s.notified[id] = true
			if snapshot.Status == execution.StatusRunning {
				events = append(events, LifecycleEvent{Kind: LifecycleStarted, Execution: snapshot.Clone()})
			} else {
				// First sighting is already terminal: suppress the started
				// toast, and the completed one too.
				s.finished[id] = true
			}
		}

		if snapshot.Status.Terminal() && !s.finished[id] {
			prev, seen := s.execs[id]
			if !seen || prev.Status == execution.StatusRunning {
				s.finished[id] = true
				events = append(events, LifecycleEvent{Kind: LifecycleCompleted, Execution: snapshot.Clone()})
			}
		}
	}

	s.execs = next
	s.fp = fingerprint(next)
	return events
}

// Fingerprint is the structural summary of the current store: sorted
// (id, status, currentStepIndex, eventCount) tuples. Two stores that differ
// only in fields outside the tuple fingerprint identically.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fp
}

// Get returns a deep copy of one execution.
func (s *Store) Get(id string) (*execution.Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, false
	}
	return exec.Clone(), true
}

// Running returns summaries of all running executions, newest first.
func (s *Store) Running() []Summary {
	return s.summaries(true)
}

// All returns summaries of every tracked execution, newest first.
func (s *Store) All() []Summary {
	return s.summaries(false)
}

// StaleIDs returns the ids of running executions the policy classifies as
// dead, in lexicographic order so repeated sweeps report deterministically.
func (s *Store) StaleIDs(policy execution.StalePolicy) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowFn()
	var ids []string
	for id, exec := range s.execs {
		if policy.IsStale(exec, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Remove drops executions from the in-memory view. Used after a stale
// clear so the UI updates immediately even when the file rewrite is still
// contending for the lock.
func (s *Store) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.execs, id)
	}
	s.fp = fingerprint(s.execs)
}

// Forget drops an execution and erases its notification history, so a
// future run reusing the same id is treated as brand new.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.execs, id)
	delete(s.notified, id)
	delete(s.finished, id)
	s.fp = fingerprint(s.execs)
}

// NewestRunningID returns the id of the most recently started running
// execution, or "" when nothing is running.
func (s *Store) NewestRunningID() string {
	running := s.Running()
	if len(running) == 0 {
		return ""
	}
	return running[0].ID
}

func (s *Store) summaries(runningOnly bool) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.nowFn()
	out := make([]Summary, 0, len(s.execs))
	for _, exec := range s.execs {
		if runningOnly && exec.Status != execution.StatusRunning {
			continue
		}
		var end *time.Time
		if exec.EndTime != nil {
			t := *exec.EndTime
			end = &t
		}
		out = append(out, Summary{
			ID:               exec.ID,
			SkillName:        exec.SkillName,
			Source:           exec.Source,
			SourceDetails:    exec.SourceDetails,
			Status:           exec.Status,
			CurrentStepIndex: exec.CurrentStepIndex,
			TotalSteps:       exec.TotalSteps,
			StartTime:        exec.StartTime,
			EndTime:          end,
			ElapsedMs:        now.Sub(exec.StartTime).Milliseconds(),
			EventCount:       len(exec.Events),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func fingerprint(execs map[string]*execution.Execution) string {
	tuples := make([]string, 0, len(execs))
	for id, exec := range execs {
		tuples = append(tuples, fmt.Sprintf("%s|%s|%d|%d", id, exec.Status, exec.CurrentStepIndex, len(exec.Events)))
	}
	sort.Strings(tuples)
	return strings.Join(tuples, ";")
}
