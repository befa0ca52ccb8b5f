// Package tracker ties the shared-file tracker together: change detection,
// store reloads, staleness clearing, lifecycle toasts, and projection
// publishing. One Tracker instance is constructed by the composition root
// and passed by reference; Start and Dispose bound its lifetime.
package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/bus"
	"github.com/B-Whitt/skillwatch/pkg/config"
	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/lockfile"
	"github.com/B-Whitt/skillwatch/pkg/logger"
	"github.com/B-Whitt/skillwatch/pkg/store"
	"github.com/B-Whitt/skillwatch/pkg/watch"
)

// ToastKind classifies a lifecycle notification.
type ToastKind string

const (
	ToastInfo  ToastKind = "info"
	ToastWarn  ToastKind = "warn"
	ToastError ToastKind = "error"
)

// Notifier is the status/messaging collaborator surface.
type Notifier interface {
	// ShowToast displays a transient notification and returns the action
	// the user picked, or "" when dismissed.
	ShowToast(kind ToastKind, message string, actions []string) (string, error)
	// UpdateStatusIndicator refreshes the persistent one-line summary.
	UpdateStatusIndicator(text, tooltip string, emphasis bool)
}

// Renderer is the detail-view collaborator surface.
type Renderer interface {
	UpdateRunningList(summaries []store.Summary)
	UpdateDetail(detail *bus.Detail)
}

// Tracker watches the shared state file and keeps all consumers current.
type Tracker struct {
	cfg       *config.Config
	statePath string
	lockOpts  lockfile.Options
	policy    execution.StalePolicy

	store   *store.Store
	watcher *watch.Watcher
	pbus    *bus.ProjectionBus

	notifier     Notifier
	renderer     Renderer
	onCompletion func(*execution.Execution)

	// mu serializes the change handler and user commands; reloads applied
	// serially are what make lifecycle events exactly-once.
	mu         sync.Mutex
	selectedID string
	lastFP     string
	havePub    bool
	nowFn      func() time.Time
}

// New builds an unstarted tracker from config.
func New(cfg *config.Config) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		statePath: cfg.StatePath(),
		lockOpts: lockfile.Options{
			Timeout:    cfg.LockTimeout,
			StaleAfter: cfg.LockStaleAfter,
		},
		policy: execution.StalePolicy{
			MaxRunDuration: cfg.MaxRunDuration,
			MaxEventGap:    cfg.MaxEventGap,
		},
		store:    store.New(),
		pbus:     bus.NewProjectionBus(),
		notifier: logNotifier{},
		nowFn:    time.Now,
	}
	t.watcher = watch.New(t.statePath, cfg.PollInterval, t.handleChange)
	return t
}

// SetNotifier replaces the toast/status collaborator. Call before Start.
func (t *Tracker) SetNotifier(n Notifier) {
	if n != nil {
		t.notifier = n
	}
}

// SetRenderer attaches the detail-view collaborator. Call before Start.
func (t *Tracker) SetRenderer(r Renderer) {
	t.renderer = r
}

// OnCompletion registers a hook invoked once per execution observed
// reaching a terminal status. Call before Start.
func (t *Tracker) OnCompletion(fn func(*execution.Execution)) {
	t.onCompletion = fn
}

// WithNow injects a clock for tests.
func (t *Tracker) WithNow(nowFn func() time.Time) *Tracker {
	if nowFn != nil {
		t.nowFn = nowFn
		t.store.WithNow(nowFn)
	}
	return t
}

// Bus exposes the projection bus for UI consumers.
func (t *Tracker) Bus() *bus.ProjectionBus {
	return t.pbus
}

// StatePath returns the resolved shared file location.
func (t *Tracker) StatePath() string {
	return t.statePath
}

// Start performs the initial reload and begins watching.
func (t *Tracker) Start() error {
	if err := os.MkdirAll(filepath.Dir(t.statePath), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	t.handleChange()
	if err := t.watcher.Start(); err != nil {
		return err
	}
	logger.InfoCF("tracker", "Watching state file", map[string]interface{}{
		"path": t.statePath,
		"poll": t.cfg.PollInterval.String(),
	})
	return nil
}

// Refresh forces one read/reload cycle outside the watcher cadence. Used
// by one-shot CLI commands that never Start the watcher, and after this
// process's own rewrites.
func (t *Tracker) Refresh() {
	t.watcher.Poke()
}

// Dispose stops the watcher and closes the bus. No further file access or
// publishes happen after it returns.
func (t *Tracker) Dispose() {
	t.watcher.Stop()
	t.pbus.Close()
}

// SelectExecution pins the detail view to one execution id. An empty id
// returns to the automatic newest-running selection.
func (t *Tracker) SelectExecution(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.selectedID == id {
		return
	}
	t.selectedID = id
	t.publishLocked(true)
}

// Selected returns the currently pinned id, "" when automatic.
func (t *Tracker) Selected() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectedID
}

// Running returns the running summaries, newest first.
func (t *Tracker) Running() []store.Summary {
	return t.store.Running()
}

// All returns every tracked summary, newest first.
func (t *Tracker) All() []store.Summary {
	return t.store.All()
}

// handleChange is the single funnel for both detection paths and for the
// initial load. Re-entrant invocations queue on the mutex; replaying a
// reload for the same content is harmless because the store diff is empty
// and the fingerprint unchanged.
func (t *Tracker) handleChange() {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.DebugCF("tracker", "State read skipped", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	sf, err := execution.DecodeStateFile(data)
	if err != nil {
		// Likely a read racing the runner's write. The next cycle will see
		// the settled content.
		logger.DebugCF("tracker", "State parse skipped", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	events := t.store.Reload(sf)
	for _, ev := range events {
		t.announce(ev)
	}
	t.publishLocked(false)
}

func (t *Tracker) announce(ev store.LifecycleEvent) {
	exec := ev.Execution
	if t.onCompletion != nil && ev.Kind == store.LifecycleCompleted {
		t.onCompletion(exec)
	}
	if !t.cfg.Toasts {
		return
	}
	switch ev.Kind {
	case store.LifecycleStarted:
		t.toast(ToastInfo, fmt.Sprintf("Skill started: %s", exec.SkillName))
	case store.LifecycleCompleted:
		if exec.Status == execution.StatusFailed {
			t.toast(ToastError, fmt.Sprintf("Skill failed: %s", exec.SkillName))
		} else {
			t.toast(ToastInfo, fmt.Sprintf("Skill completed: %s", exec.SkillName))
		}
	}
}

func (t *Tracker) toast(kind ToastKind, message string) {
	if _, err := t.notifier.ShowToast(kind, message, nil); err != nil {
		logger.WarnCF("tracker", "Toast failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// publishLocked refreshes consumers. The cheap aggregate (status line,
// running count) is always updated; the full projection is rebuilt and
// pushed only when the fingerprint moved, or when forced by a selection
// change. Callers hold t.mu.
func (t *Tracker) publishLocked(force bool) {
	running := t.store.Running()
	line := statusLine(running)
	t.notifier.UpdateStatusIndicator(line, t.statePath, len(running) > 0)

	fp := t.store.Fingerprint()
	if !force && t.havePub && fp == t.lastFP {
		return
	}
	t.lastFP = fp
	t.havePub = true

	proj := bus.Projection{
		Summaries:    t.store.All(),
		Detail:       t.buildDetail(running),
		RunningCount: len(running),
		StatusLine:   line,
		GeneratedAt:  t.nowFn(),
	}
	if t.renderer != nil {
		t.renderer.UpdateRunningList(running)
		t.renderer.UpdateDetail(proj.Detail)
	}
	t.pbus.Publish(proj)
}

// buildDetail applies the selection policy: the explicitly selected id if
// still present, else the newest running execution, else nothing.
func (t *Tracker) buildDetail(running []store.Summary) *bus.Detail {
	id := t.selectedID
	if id != "" {
		if _, ok := t.store.Get(id); !ok {
			id = ""
		}
	}
	if id == "" {
		if len(running) == 0 {
			return nil
		}
		id = running[0].ID
	}

	exec, ok := t.store.Get(id)
	if !ok {
		return nil
	}
	return &bus.Detail{
		ID:               exec.ID,
		SkillName:        exec.SkillName,
		Status:           exec.Status,
		CurrentStepIndex: exec.CurrentStepIndex,
		TotalSteps:       exec.TotalSteps,
		Steps:            execution.BuildSteps(exec),
		StartTime:        exec.StartTime,
		EndTime:          exec.EndTime,
		Source:           exec.Source,
		SourceDetails:    exec.SourceDetails,
	}
}

func statusLine(running []store.Summary) string {
	if len(running) == 0 {
		return "No skills running"
	}
	parts := make([]string, 0, len(running))
	for i, s := range running {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("+%d more", len(running)-i))
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%d/%d)", s.SkillName, s.CurrentStepIndex+1, s.TotalSteps))
	}
	noun := "skills"
	if len(running) == 1 {
		noun = "skill"
	}
	return fmt.Sprintf("%d %s running: %s", len(running), noun, strings.Join(parts, ", "))
}

// logNotifier is the default collaborator: toasts land in the log and the
// status line is ignored.
type logNotifier struct{}

func (logNotifier) ShowToast(kind ToastKind, message string, _ []string) (string, error) {
	logger.InfoCF("tracker", message, map[string]interface{}{"kind": string(kind)})
	return "", nil
}

func (logNotifier) UpdateStatusIndicator(string, string, bool) {}
