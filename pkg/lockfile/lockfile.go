// Package lockfile serializes this process's rewrites of the shared state
// file against each other using a sidecar lock file. Creation is
// O_CREATE|O_EXCL, so two racers cannot both win; a lock whose mtime is
// older than the staleness threshold is treated as abandoned by a crashed
// holder and reclaimed.
package lockfile

import (
	"fmt"
	"os"
	"time"

	"github.com/B-Whitt/skillwatch/pkg/logger"
)

const retryInterval = 100 * time.Millisecond

// Options bound an acquisition attempt.
type Options struct {
	// Timeout is the total time to keep retrying before giving up.
	Timeout time.Duration
	// StaleAfter is the lock age past which a holder is presumed crashed.
	StaleAfter time.Duration
}

// DefaultOptions keeps user-facing actions snappy while still riding out a
// normal competing write.
func DefaultOptions() Options {
	return Options{
		Timeout:    5 * time.Second,
		StaleAfter: 30 * time.Second,
	}
}

// LockPath returns the sidecar lock path for a state file.
func LockPath(path string) string {
	return path + ".lock"
}

// Acquire attempts to take the lock for path. It returns false (with a nil
// error) when the timeout elapses while another holder keeps the lock; lock
// contention is an expected condition, not a failure.
func Acquire(path string, opts Options) (bool, error) {
	lock := LockPath(path)
	deadline := time.Now().Add(opts.Timeout)

	for {
		ok, err := tryCreate(lock)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		if opts.StaleAfter > 0 {
			if reclaimIfStale(lock, opts.StaleAfter) {
				// Loop straight back to the create; only one racer wins it.
				continue
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(retryInterval)
	}
}

// Release removes the lock, tolerating one that is already gone.
func Release(path string) {
	if err := os.Remove(LockPath(path)); err != nil && !os.IsNotExist(err) {
		logger.WarnCF("lockfile", "Release failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// WithLock acquires, runs fn, and releases on every exit path. When the
// lock cannot be acquired within the timeout, fn is not run and (false, nil)
// is returned.
func WithLock(path string, opts Options, fn func() error) (bool, error) {
	ok, err := Acquire(path, opts)
	if err != nil || !ok {
		return false, err
	}
	defer Release(path)
	return true, fn()
}

func tryCreate(lock string) (bool, error) {
	f, err := os.OpenFile(lock, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock %s: %w", lock, err)
	}
	// Payload is diagnostic only; the protocol rests on O_EXCL and mtime.
	fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("writing lock %s: %w", lock, err)
	}
	return true, nil
}

// reclaimIfStale deletes a lock older than staleAfter. Returns true when a
// reclaim was attempted, meaning the caller should retry the create
// immediately instead of sleeping.
func reclaimIfStale(lock string, staleAfter time.Duration) bool {
	info, err := os.Stat(lock)
	if err != nil {
		// Already released by its holder.
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) <= staleAfter {
		return false
	}
	logger.WarnCF("lockfile", "Reclaiming stale lock", map[string]interface{}{
		"lock": lock,
		"age":  time.Since(info.ModTime()).String(),
	})
	if err := os.Remove(lock); err != nil && !os.IsNotExist(err) {
		return false
	}
	return true
}
