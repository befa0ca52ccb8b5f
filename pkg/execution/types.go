// Package execution defines the shared on-disk model for skill-runner
// executions. The JSON field names follow the runner's schema (camelCase);
// this process is a reader of that schema, not its owner.
package execution

import (
	"encoding/json"
	"strings"
	"time"
)

// Status of one execution. Once a run leaves running it never returns.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Source classifies what started an execution.
type Source string

const (
	SourceInteractive  Source = "interactive"
	SourceScheduled    Source = "scheduled"
	SourceMessaging    Source = "messaging"
	SourceProgrammatic Source = "programmatic"
)

// EventKind is the closed set of event types the runner emits. Values
// outside the set decode fine but reduce as no-ops; the runner is a separate
// process and its log must never crash this one.
type EventKind string

const (
	EventExecutionStart    EventKind = "execution_start"
	EventStepStart         EventKind = "step_start"
	EventStepComplete      EventKind = "step_complete"
	EventStepFailed        EventKind = "step_failed"
	EventStepSkipped       EventKind = "step_skipped"
	EventExecutionComplete EventKind = "execution_complete"
	EventStateRead         EventKind = "state_read"
	EventStateWrite        EventKind = "state_write"
	EventAutoHeal          EventKind = "auto_heal"
	EventRetry             EventKind = "retry"
	EventSemanticSearch    EventKind = "semantic_search"
	EventRemediationStep   EventKind = "remediation_step"
)

// Known reports whether the kind is one of the enumerated runner events.
func (k EventKind) Known() bool {
	switch k {
	case EventExecutionStart, EventStepStart, EventStepComplete,
		EventStepFailed, EventStepSkipped, EventExecutionComplete,
		EventStateRead, EventStateWrite, EventAutoHeal, EventRetry,
		EventSemanticSearch, EventRemediationStep:
		return true
	}
	return false
}

// UnmarshalJSON canonicalizes hyphenated kind spellings; older runner
// builds wrote "step-start" where current builds write "step_start".
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = EventKind(strings.ReplaceAll(s, "-", "_"))
	return nil
}

// StepManifestEntry is one planned step, carried only on the
// execution_start event.
type StepManifestEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tool        string `json:"tool,omitempty"`
	OnError     string `json:"onError,omitempty"`
}

// Event is one immutable fact appended to an execution's log. The payload
// fields are a union over kinds; unused fields stay zero and are omitted on
// the wire.
type Event struct {
	Kind      EventKind `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	StepIndex *int   `json:"stepIndex,omitempty"`
	StepName  string `json:"stepName,omitempty"`

	DurationMs  int64               `json:"durationMs,omitempty"`  // step_complete, step_failed
	Result      string              `json:"result,omitempty"`      // step_complete
	Error       string              `json:"error,omitempty"`       // step_failed, execution_complete
	Key         string              `json:"key,omitempty"`         // state_read, state_write
	Description string              `json:"description,omitempty"` // auto_heal
	Query       string              `json:"query,omitempty"`       // semantic_search
	Tool        string              `json:"tool,omitempty"`        // remediation_step
	Reason      string              `json:"reason,omitempty"`      // retry, remediation_step
	Steps       []StepManifestEntry `json:"steps,omitempty"`       // execution_start only
}

// Execution is one tracked run of a named skill, owning an append-only
// event log.
type Execution struct {
	ID               string     `json:"executionId"`
	SkillName        string     `json:"skillName"`
	Source           Source     `json:"source,omitempty"`
	SourceDetails    string     `json:"sourceDetails,omitempty"`
	SessionID        string     `json:"sessionId,omitempty"`
	Status           Status     `json:"status"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	TotalSteps       int        `json:"totalSteps"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Events           []Event    `json:"events"`
}

// LastEventTime returns the timestamp of the newest log entry. Event
// timestamps are non-decreasing within one log, so the last entry is the
// newest.
func (e *Execution) LastEventTime() (time.Time, bool) {
	if len(e.Events) == 0 {
		return time.Time{}, false
	}
	return e.Events[len(e.Events)-1].Timestamp, true
}

// Clone returns a deep copy so callers can hold snapshots across reloads.
func (e *Execution) Clone() *Execution {
	out := *e
	if e.EndTime != nil {
		t := *e.EndTime
		out.EndTime = &t
	}
	if len(e.Events) > 0 {
		out.Events = make([]Event, len(e.Events))
		copy(out.Events, e.Events)
		for i := range out.Events {
			if e.Events[i].StepIndex != nil {
				idx := *e.Events[i].StepIndex
				out.Events[i].StepIndex = &idx
			}
			if len(e.Events[i].Steps) > 0 {
				out.Events[i].Steps = make([]StepManifestEntry, len(e.Events[i].Steps))
				copy(out.Events[i].Steps, e.Events[i].Steps)
			}
		}
	} else {
		out.Events = []Event{}
	}
	return &out
}
