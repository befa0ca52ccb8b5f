// Package logger provides leveled, component-tagged logging for the tracker.
// Output goes to stderr via the standard log package so it never interleaves
// with TUI rendering on stdout.
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	std          = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLevel changes the minimum level that will be emitted.
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

// ParseLevel maps a config string to a Level. Unknown values default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func emit(l Level, component, msg string, fields map[string]interface{}) {
	if int32(l) < currentLevel.Load() {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", l, component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	std.Println(b.String())
}

// DebugCF logs at debug level with a component tag and structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, component, msg, fields)
}

// InfoC logs at info level with a component tag.
func InfoC(component, msg string) {
	emit(LevelInfo, component, msg, nil)
}

// InfoCF logs at info level with a component tag and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, component, msg, fields)
}

// WarnCF logs at warn level with a component tag and structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, component, msg, fields)
}

// ErrorCF logs at error level with a component tag and structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, component, msg, fields)
}

// SetOutput redirects log output, used by tests and by the TUI to keep
// stderr clean while the alternate screen is active.
func SetOutput(w *os.File) {
	std.SetOutput(w)
}
