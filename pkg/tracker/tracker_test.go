package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/bus"
	"github.com/B-Whitt/skillwatch/pkg/config"
	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/lockfile"
	"github.com/B-Whitt/skillwatch/pkg/store"
)

type toast struct {
	kind    ToastKind
	message string
}

type fakeNotifier struct {
	toasts      []toast
	statusLines []string
}

func (f *fakeNotifier) ShowToast(kind ToastKind, message string, _ []string) (string, error) {
	f.toasts = append(f.toasts, toast{kind, message})
	return "", nil
}

func (f *fakeNotifier) UpdateStatusIndicator(text, _ string, _ bool) {
	f.statusLines = append(f.statusLines, text)
}

type fakeRenderer struct {
	lists   [][]store.Summary
	details []*bus.Detail
}

func (f *fakeRenderer) UpdateRunningList(s []store.Summary) { f.lists = append(f.lists, s) }
func (f *fakeRenderer) UpdateDetail(d *bus.Detail)          { f.details = append(f.details, d) }

type harness struct {
	t        *testing.T
	trk      *Tracker
	notifier *fakeNotifier
	renderer *fakeRenderer
	path     string
	mtime    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workspace = dir
	cfg.StateFile = filepath.Join(dir, "executions.json")
	cfg.PollInterval = time.Hour // tests drive refreshes by hand
	cfg.LockTimeout = 500 * time.Millisecond
	cfg.LockStaleAfter = time.Minute

	h := &harness{
		t:        t,
		notifier: &fakeNotifier{},
		renderer: &fakeRenderer{},
		path:     cfg.StateFile,
		mtime:    time.Now().Add(-time.Hour),
	}
	h.trk = New(cfg)
	h.trk.SetNotifier(h.notifier)
	h.trk.SetRenderer(h.renderer)
	t.Cleanup(h.trk.Dispose)
	return h
}

// writeState writes the file with a strictly advancing mtime so every
// refresh observes the change regardless of filesystem timestamp
// resolution.
func (h *harness) writeState(v interface{}) {
	h.t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.t.Fatalf("marshal state: %v", err)
	}
	if err := os.WriteFile(h.path, data, 0644); err != nil {
		h.t.Fatalf("write state: %v", err)
	}
	h.mtime = h.mtime.Add(2 * time.Second)
	if err := os.Chtimes(h.path, h.mtime, h.mtime); err != nil {
		h.t.Fatalf("chtimes: %v", err)
	}
}

func (h *harness) readStateFile() *execution.StateFile {
	h.t.Helper()
	data, err := os.ReadFile(h.path)
	if err != nil {
		h.t.Fatalf("read state: %v", err)
	}
	sf, err := execution.DecodeStateFile(data)
	if err != nil {
		h.t.Fatalf("decode state: %v", err)
	}
	return sf
}

func runningExec(id, skill string, startedAgo time.Duration, lastEventAgo time.Duration) *execution.Execution {
	now := time.Now()
	return &execution.Execution{
		ID:         id,
		SkillName:  skill,
		Status:     execution.StatusRunning,
		TotalSteps: 3,
		StartTime:  now.Add(-startedAgo),
		Events: []execution.Event{{
			Kind:      execution.EventStepStart,
			Timestamp: now.Add(-lastEventAgo),
		}},
	}
}

func currentShape(execs ...*execution.Execution) *execution.StateFile {
	m := map[string]*execution.Execution{}
	for _, e := range execs {
		m[e.ID] = e
	}
	return &execution.StateFile{Executions: m, LastUpdated: time.Now(), Version: execution.CurrentVersion}
}

func countPublishes(ch <-chan bus.Projection) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func TestLifecycleToastsExactlyOnce(t *testing.T) {
	h := newHarness(t)

	h.writeState(currentShape(runningExec("e1", "deploy", time.Minute, time.Second)))
	h.trk.Refresh()
	// Redundant cycles with unchanged content.
	h.trk.Refresh()
	h.trk.Refresh()

	done := runningExec("e1", "deploy", time.Minute, time.Second)
	done.Status = execution.StatusSuccess
	end := time.Now()
	done.EndTime = &end
	h.writeState(currentShape(done))
	h.trk.Refresh()
	h.trk.Refresh()

	var started, completed int
	for _, tst := range h.notifier.toasts {
		switch {
		case tst.message == "Skill started: deploy":
			started++
		case tst.message == "Skill completed: deploy":
			completed++
		}
	}
	if started != 1 || completed != 1 {
		t.Fatalf("toasts: started=%d completed=%d, want 1/1 (%+v)", started, completed, h.notifier.toasts)
	}
}

func TestFingerprintSuppressesRepublish(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.trk.Bus().Subscribe()
	defer cancel()

	exec := runningExec("e1", "deploy", time.Minute, time.Second)
	exec.CurrentStepIndex = 2
	h.writeState(currentShape(exec))
	h.trk.Refresh()
	if n := countPublishes(ch); n != 1 {
		t.Fatalf("publishes after first reload = %d, want 1", n)
	}
	statusUpdates := len(h.notifier.statusLines)

	// Rewrite the identical content; mtime advances, fingerprint does not.
	h.writeState(currentShape(exec))
	h.trk.Refresh()
	if n := countPublishes(ch); n != 0 {
		t.Fatalf("republished %d times with unchanged fingerprint", n)
	}
	if len(h.notifier.statusLines) <= statusUpdates {
		t.Fatal("cheap status aggregate must refresh every cycle")
	}

	// Step advance moves the fingerprint.
	exec2 := runningExec("e1", "deploy", time.Minute, time.Second)
	exec2.CurrentStepIndex = 3
	h.writeState(currentShape(exec2))
	h.trk.Refresh()
	if n := countPublishes(ch); n != 1 {
		t.Fatalf("step advance publishes = %d, want 1", n)
	}
}

func TestLegacyShapeDownstream(t *testing.T) {
	h := newHarness(t)

	legacy := map[string]interface{}{
		"skillName":        "deploy",
		"status":           "running",
		"currentStepIndex": 0,
		"totalSteps":       3,
		"startTime":        time.Now().Add(-time.Minute).Format(time.RFC3339Nano),
		"events":           []interface{}{},
	}
	h.writeState(legacy)
	h.trk.Refresh()

	all := h.trk.All()
	if len(all) != 1 {
		t.Fatalf("legacy file produced %d executions, want 1", len(all))
	}
	if all[0].SkillName != "deploy" || all[0].Status != execution.StatusRunning {
		t.Fatalf("legacy summary wrong: %+v", all[0])
	}
	if len(h.notifier.toasts) != 1 || h.notifier.toasts[0].message != "Skill started: deploy" {
		t.Fatalf("legacy toasts wrong: %+v", h.notifier.toasts)
	}
}

func TestClearStalePersistsFailure(t *testing.T) {
	h := newHarness(t)

	dead := runningExec("dead", "deploy", 45*time.Minute, 40*time.Minute)
	fresh := runningExec("fresh", "triage", time.Minute, time.Second)
	h.writeState(currentShape(dead, fresh))
	h.trk.Refresh()

	count, err := h.trk.ClearStale()
	if err != nil {
		t.Fatalf("ClearStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("persisted count = %d, want 1", count)
	}

	// Gone from the view immediately.
	for _, sum := range h.trk.All() {
		if sum.ID == "dead" {
			t.Fatal("stale execution still in view")
		}
	}

	// Persisted as failed with a synthetic terminal event.
	sf := h.readStateFile()
	got := sf.Executions["dead"]
	if got == nil {
		t.Fatal("stale execution missing from rewritten file")
	}
	if got.Status != execution.StatusFailed || got.EndTime == nil {
		t.Fatalf("stale execution not failed in file: %+v", got)
	}
	last := got.Events[len(got.Events)-1]
	if last.Kind != execution.EventExecutionComplete || last.Error == "" {
		t.Fatalf("synthetic completion event missing: %+v", last)
	}
	if sf.Executions["fresh"].Status != execution.StatusRunning {
		t.Fatal("healthy execution was clobbered")
	}
}

func TestClearOneUnderLockContention(t *testing.T) {
	h := newHarness(t)

	h.writeState(currentShape(runningExec("e1", "deploy", time.Minute, time.Second)))
	h.trk.Refresh()

	// Someone else holds a fresh lock for the whole attempt.
	lock := lockfile.LockPath(h.path)
	if err := os.WriteFile(lock, []byte("pid=999\n"), 0644); err != nil {
		t.Fatalf("seeding foreign lock: %v", err)
	}
	defer os.Remove(lock)

	persisted, err := h.trk.ClearOne("e1")
	if err != nil {
		t.Fatalf("ClearOne: %v", err)
	}
	if persisted {
		t.Fatal("reported persisted despite held lock")
	}

	// View updated anyway.
	if len(h.trk.All()) != 0 {
		t.Fatal("execution still in view after local clear")
	}
	// File untouched.
	sf := h.readStateFile()
	if sf.Executions["e1"].Status != execution.StatusRunning {
		t.Fatal("file was rewritten despite lock contention")
	}

	// The failure is user-visible.
	warned := false
	for _, tst := range h.notifier.toasts {
		if tst.kind == ToastWarn {
			warned = true
		}
	}
	if !warned {
		t.Fatal("no warning toast for unpersisted manual clear")
	}
}

func TestClearOneFinishedExecutionIsNotContention(t *testing.T) {
	h := newHarness(t)

	done := runningExec("e1", "deploy", time.Minute, time.Second)
	done.Status = execution.StatusSuccess
	end := time.Now()
	done.EndTime = &end
	h.writeState(currentShape(done))
	h.trk.Refresh()

	// No lock is held; the file simply has nothing running to rewrite.
	persisted, err := h.trk.ClearOne("e1")
	if err != nil {
		t.Fatalf("ClearOne: %v", err)
	}
	if !persisted {
		t.Fatal("zero matches misreported as a persistence failure")
	}
	for _, tst := range h.notifier.toasts {
		if tst.kind == ToastWarn {
			t.Fatalf("spurious warning toast: %+v", tst)
		}
	}

	// The finished entry is left as the runner wrote it.
	sf := h.readStateFile()
	if got := sf.Executions["e1"]; got == nil || got.Status != execution.StatusSuccess {
		t.Fatalf("finished execution was rewritten: %+v", got)
	}
}

func TestDetailSelectionPolicy(t *testing.T) {
	h := newHarness(t)

	older := runningExec("older", "deploy", 10*time.Minute, time.Second)
	newer := runningExec("newer", "triage", time.Minute, time.Second)
	h.writeState(currentShape(older, newer))
	h.trk.Refresh()

	last := h.renderer.details[len(h.renderer.details)-1]
	if last == nil || last.ID != "newer" {
		t.Fatalf("default detail = %+v, want newest running", last)
	}

	h.trk.SelectExecution("older")
	last = h.renderer.details[len(h.renderer.details)-1]
	if last == nil || last.ID != "older" {
		t.Fatalf("pinned detail = %+v, want older", last)
	}
	if len(last.Steps) != 3 {
		t.Fatalf("detail steps = %d, want TotalSteps", len(last.Steps))
	}

	h.trk.SelectExecution("")
	last = h.renderer.details[len(h.renderer.details)-1]
	if last == nil || last.ID != "newer" {
		t.Fatalf("auto detail after unpin = %+v, want newest", last)
	}
}

func TestMalformedFileSkipsCycle(t *testing.T) {
	h := newHarness(t)

	h.writeState(currentShape(runningExec("e1", "deploy", time.Minute, time.Second)))
	h.trk.Refresh()
	if len(h.trk.All()) != 1 {
		t.Fatal("setup reload failed")
	}

	// A torn write mid-read: the cycle is skipped, the view keeps the
	// last good state.
	if err := os.WriteFile(h.path, []byte(`{"executions": {`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.mtime = h.mtime.Add(2 * time.Second)
	if err := os.Chtimes(h.path, h.mtime, h.mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	h.trk.Refresh()

	if len(h.trk.All()) != 1 {
		t.Fatal("view lost state on a malformed read")
	}
}
