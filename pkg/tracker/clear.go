package tracker

import (
	"fmt"
	"os"

	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/lockfile"
	"github.com/B-Whitt/skillwatch/pkg/logger"
)

const staleClearMessage = "Execution judged dead by the tracker and marked failed"
const manualClearMessage = "Execution cleared manually"

// ClearStale finds every stale running execution, drops it from the
// in-memory view immediately, and rewrites the shared file under the lock
// to mark it failed. The returned count reflects executions actually
// persisted as failed; it is zero when the lock could not be acquired even
// though the in-memory view was still pruned.
func (t *Tracker) ClearStale() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.store.StaleIDs(t.policy)
	if len(ids) == 0 {
		return 0, nil
	}

	// Prune the view first so the UI stays responsive under lock
	// contention. The file is still ground truth: a failed rewrite leaves
	// the executions to be re-observed and re-cleared on a later sweep.
	t.store.Remove(ids...)
	t.publishLocked(false)

	persisted, acquired, err := t.failInFile(ids, staleClearMessage)
	if err != nil {
		return persisted, err
	}
	if !acquired {
		logger.WarnCF("tracker", "Stale clear skipped, state file busy", map[string]interface{}{
			"requested": len(ids),
		})
	} else if persisted < len(ids) {
		logger.WarnCF("tracker", "Stale clear not fully persisted", map[string]interface{}{
			"requested": len(ids),
			"persisted": persisted,
		})
	} else {
		logger.InfoCF("tracker", "Cleared stale executions", map[string]interface{}{
			"count": persisted,
		})
	}
	return persisted, nil
}

// ClearOne is the user-initiated variant scoped to a single execution. It
// also erases the execution's notification history so a reused id counts
// as new. Unlike the automatic sweep, a persistence failure here is
// surfaced to the user.
func (t *Tracker) ClearOne(id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store.Forget(id)
	if t.selectedID == id {
		t.selectedID = ""
	}
	t.publishLocked(false)

	_, acquired, err := t.failInFile([]string{id}, manualClearMessage)
	if err != nil {
		return false, err
	}
	if !acquired {
		t.toast(ToastWarn, fmt.Sprintf("Could not persist clear of %s: state file busy", id))
		return false, nil
	}
	// Acquired with nothing rewritten means the file holds no running entry
	// under this id (already finished, or never there); there was nothing to
	// persist, which is not a failure.
	return true, nil
}

// failInFile rewrites the shared file under the lock, marking each given
// execution failed with a synthetic completion event. It re-reads the file
// inside the critical section so a runner write between our last reload and
// the lock acquisition is not clobbered. The acquired flag tells lock
// timeout apart from "lock held, but no running entry matched"; callers
// must not treat the latter as contention.
func (t *Tracker) failInFile(ids []string, message string) (count int, acquired bool, err error) {
	ok, err := lockfile.WithLock(t.statePath, t.lockOpts, func() error {
		data, err := os.ReadFile(t.statePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading state for clear: %w", err)
		}
		sf, err := execution.DecodeStateFile(data)
		if err != nil {
			return fmt.Errorf("parsing state for clear: %w", err)
		}

		now := t.nowFn()
		for _, id := range ids {
			exec, ok := sf.Executions[id]
			if !ok || exec.Status != execution.StatusRunning {
				continue
			}
			end := now
			exec.Status = execution.StatusFailed
			exec.EndTime = &end
			exec.Events = append(exec.Events, execution.Event{
				Kind:      execution.EventExecutionComplete,
				Timestamp: now,
				Error:     message,
			})
			count++
		}
		if count == 0 {
			return nil
		}

		out, err := execution.EncodeStateFile(sf, now)
		if err != nil {
			return err
		}
		return lockfile.WriteAtomic(t.statePath, out)
	})
	if err != nil {
		return 0, ok, err
	}
	if !ok {
		// Expected contention, not an error.
		return 0, false, nil
	}
	return count, true, nil
}
