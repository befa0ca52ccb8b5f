// Package watch detects modifications of a single file through two
// redundant mechanisms: an fsnotify subscription on the containing
// directory, and a fixed-interval stat poll. fsnotify is best effort: on
// some platforms and filesystems (notably network mounts) it never fires,
// so the poll is the correctness backstop and fsnotify only buys latency.
// Both paths funnel into one handler gated on a strict modification-time
// advance, which makes duplicate notifications for the same write harmless.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/B-Whitt/skillwatch/pkg/logger"
)

// DefaultPollInterval bounds how stale the tracker can be when fsnotify is
// silent.
const DefaultPollInterval = time.Second

// Watcher watches one file and invokes the callback whenever its mtime
// advances past the last observed value.
type Watcher struct {
	path     string
	dir      string
	name     string
	poll     time.Duration
	onChange func()

	mu      sync.Mutex
	lastMod time.Time

	fsw  *fsnotify.Watcher
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New builds a watcher for path. The callback runs on the watcher's
// goroutines; it must be safe to call at any time after Start.
func New(path string, poll time.Duration, onChange func()) *Watcher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{
		path:     path,
		dir:      filepath.Dir(path),
		name:     filepath.Base(path),
		poll:     poll,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Start launches both detection paths. A failure to set up the native
// subscription is logged and tolerated; polling alone still meets the
// detection guarantee.
func (w *Watcher) Start() error {
	if w.onChange == nil {
		return fmt.Errorf("watch: no change handler set")
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := fsw.Add(w.dir); addErr != nil {
			fsw.Close()
			err = addErr
		} else {
			w.fsw = fsw
			w.wg.Add(1)
			go w.notifyLoop()
		}
	}
	if err != nil {
		logger.WarnCF("watch", "Native watch unavailable, polling only", map[string]interface{}{
			"dir":   w.dir,
			"error": err.Error(),
		})
	}

	w.wg.Add(1)
	go w.pollLoop()
	return nil
}

// Stop halts both paths and waits for their goroutines. No callbacks fire
// after Stop returns.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
	w.wg.Wait()
}

func (w *Watcher) notifyLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.checkNow()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.DebugCF("watch", "Native watch error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.checkNow()
		}
	}
}

// checkNow stats the file and fires the callback when the mtime strictly
// advanced. Strict greater-than keeps metadata-only touches at the same
// timestamp resolution from triggering a reprocess.
func (w *Watcher) checkNow() {
	info, err := os.Stat(w.path)
	if err != nil {
		// Missing file is a normal pre-first-run condition.
		return
	}

	w.mu.Lock()
	advanced := info.ModTime().After(w.lastMod)
	if advanced {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	if advanced {
		w.onChange()
	}
}

// Poke forces an immediate check outside the poll cadence, used right after
// this process itself rewrites the file.
func (w *Watcher) Poke() {
	w.checkNow()
}
