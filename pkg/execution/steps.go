package execution

import (
	"fmt"
	"strings"
)

// StepStatus is the derived display status of one step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Step is the per-step view built by replaying an execution's event log.
// It is derived state only and is never written back to the shared file.
type Step struct {
	Index       int        `json:"index"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tool        string     `json:"tool,omitempty"`
	Status      StepStatus `json:"status"`
	DurationMs  int64      `json:"durationMs,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`

	StateReads    []string `json:"stateReads,omitempty"`
	StateWrites   []string `json:"stateWrites,omitempty"`
	SearchQueries []string `json:"searchQueries,omitempty"`

	HealingApplied     bool   `json:"healingApplied,omitempty"`
	HealingDescription string `json:"healingDescription,omitempty"`
	RetryCount         int    `json:"retryCount,omitempty"`

	CanRetry          bool   `json:"canRetry,omitempty"`
	CanAutoHeal       bool   `json:"canAutoHeal,omitempty"`
	IsAutoRemediation bool   `json:"isAutoRemediation,omitempty"`
	RemediationTool   string `json:"remediationTool,omitempty"`
	RemediationReason string `json:"remediationReason,omitempty"`
}

// Tool prefixes for external APIs whose calls are idempotent enough to
// retry blindly.
var retryableToolPrefixes = []string{"jira.", "github.", "gitlab.", "slack.", "http."}

// Substrings that mark a step as automatic remediation rather than real work.
var remediationMarkers = []string{"retry", "heal", "fix", "recover", "fallback", "remediat"}

const learningToolPrefix = "learn_"

// BuildSteps replays the event log into exactly TotalSteps display steps.
// Pure: the execution is not modified. The first execution_start event
// carrying a manifest seeds the steps; later events update them by index.
// Indices the log never touched come back as pending placeholders, and
// events pointing past TotalSteps are tolerated but excluded from the
// output range.
func BuildSteps(exec *Execution) []Step {
	byIndex := make(map[int]*Step)
	seeded := false

	for i := range exec.Events {
		ev := &exec.Events[i]
		switch ev.Kind {
		case EventExecutionStart:
			if seeded || len(ev.Steps) == 0 {
				continue
			}
			seeded = true
			for idx, m := range ev.Steps {
				s := stepAt(byIndex, idx)
				s.Name = m.Name
				s.Description = m.Description
				s.Tool = m.Tool
				s.CanAutoHeal = isAutoHealPolicy(m.OnError)
				s.CanRetry = isRetryablePolicy(m.OnError) || hasRetryableTool(m.Tool)
				s.IsAutoRemediation = isRemediationStep(m.Name, m.Description)
			}

		case EventStepStart:
			if s := stepFor(byIndex, ev); s != nil {
				s.Status = StepRunning
			}
		case EventStepComplete:
			if s := stepFor(byIndex, ev); s != nil {
				s.Status = StepSuccess
				s.DurationMs = ev.DurationMs
				s.Result = ev.Result
			}
		case EventStepFailed:
			if s := stepFor(byIndex, ev); s != nil {
				s.Status = StepFailed
				s.DurationMs = ev.DurationMs
				s.Error = ev.Error
			}
		case EventStepSkipped:
			if s := stepFor(byIndex, ev); s != nil {
				s.Status = StepSkipped
			}
		case EventStateRead:
			if s := stepFor(byIndex, ev); s != nil {
				s.StateReads = appendUnique(s.StateReads, ev.Key)
			}
		case EventStateWrite:
			if s := stepFor(byIndex, ev); s != nil {
				s.StateWrites = appendUnique(s.StateWrites, ev.Key)
			}
		case EventAutoHeal:
			if s := stepFor(byIndex, ev); s != nil {
				s.HealingApplied = true
				s.HealingDescription = ev.Description
			}
		case EventRetry:
			if s := stepFor(byIndex, ev); s != nil {
				s.RetryCount++
			}
		case EventSemanticSearch:
			if s := stepFor(byIndex, ev); s != nil {
				s.SearchQueries = appendUnique(s.SearchQueries, ev.Query)
			}
		case EventRemediationStep:
			if s := stepFor(byIndex, ev); s != nil {
				s.IsAutoRemediation = true
				s.RemediationTool = ev.Tool
				s.RemediationReason = ev.Reason
			}

		case EventExecutionComplete:
			// Terminal status lives on the execution itself.
		default:
			// Unknown kind from a newer runner build. Ignore.
		}
	}

	out := make([]Step, exec.TotalSteps)
	for i := 0; i < exec.TotalSteps; i++ {
		if s, ok := byIndex[i]; ok {
			out[i] = *s
		} else {
			out[i] = Step{Status: StepPending}
		}
		out[i].Index = i
		if out[i].Name == "" {
			out[i].Name = fmt.Sprintf("Step %d", i+1)
		}
		if out[i].Status == "" {
			out[i].Status = StepPending
		}
	}
	return out
}

// stepFor resolves the step an event targets, or nil when the event has no
// step index.
func stepFor(byIndex map[int]*Step, ev *Event) *Step {
	if ev.StepIndex == nil || *ev.StepIndex < 0 {
		return nil
	}
	s := stepAt(byIndex, *ev.StepIndex)
	if s.Name == "" && ev.StepName != "" {
		s.Name = ev.StepName
	}
	return s
}

func stepAt(byIndex map[int]*Step, idx int) *Step {
	if s, ok := byIndex[idx]; ok {
		return s
	}
	s := &Step{Index: idx, Status: StepPending}
	byIndex[idx] = s
	return s
}

func isAutoHealPolicy(policy string) bool {
	return normalizePolicy(policy) == "auto_heal"
}

func isRetryablePolicy(policy string) bool {
	switch normalizePolicy(policy) {
	case "continue", "retry":
		return true
	}
	return false
}

func normalizePolicy(policy string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(policy)), "-", "_")
}

func hasRetryableTool(tool string) bool {
	for _, prefix := range retryableToolPrefixes {
		if strings.HasPrefix(tool, prefix) {
			return true
		}
	}
	return false
}

func isRemediationStep(name, description string) bool {
	if strings.HasPrefix(name, learningToolPrefix) {
		return true
	}
	haystack := strings.ToLower(name + " " + description)
	for _, marker := range remediationMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
