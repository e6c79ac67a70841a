package logging

import (
	"os"
	"sync"
)

// The process-wide logger is the fallback for components wired without an
// explicit one; it exists so library code never has to nil-check.
var (
	global   *Logger
	globalMu sync.RWMutex
)

func init() {
	global = DefaultLogger()
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Global returns the process-wide logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// Configure builds a logger from the observability config values, installs
// it as the process-wide logger, and returns it. Caller locations are only
// recorded at debug level.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    os.Stderr,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}
