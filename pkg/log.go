package pkg

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
)

// Component identifies an RPMI subsystem for log filtering. Every log
// record carries its component, and each component can be given its
// own minimum level so a single subsystem (say, the transport rings
// or HSM reconciliation) can be traced at debug without drowning the
// output in the rest of the stack.
type Component string

// RPMI stack component identifiers.
const (
	ComponentContext   Component = "context"
	ComponentTransport Component = "transport"
	ComponentShmem     Component = "shmem"
	ComponentGroup     Component = "group"
	ComponentHSM       Component = "hsm"
	ComponentClock     Component = "clock"
	ComponentCPPC      Component = "cppc"
	ComponentMSI       Component = "msi"
	ComponentMM        Component = "mm"
)

// logState holds the process-wide logging configuration: the sink,
// the global minimum level, and any per-component overrides.
type logState struct {
	mu     sync.RWMutex
	sink   *slog.Logger
	level  slog.Level
	levels map[Component]slog.Level
}

var state = logState{
	sink:  NewLogger(os.Stderr, nil),
	level: slog.LevelWarn,
}

// SetLogLevel sets the global minimum log level. Components with an
// explicit override via [SetComponentLogLevel] are unaffected.
func SetLogLevel(level slog.Level) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.level = level
}

// GetLogLevel returns the global minimum log level.
func GetLogLevel() slog.Level {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.level
}

// SetComponentLogLevel overrides the minimum level for one component,
// leaving the rest of the stack at the global level. Tracing a lone
// subsystem looks like:
//
//	pkg.SetComponentLogLevel(pkg.ComponentTransport, slog.LevelDebug)
func SetComponentLogLevel(c Component, level slog.Level) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.levels == nil {
		state.levels = make(map[Component]slog.Level)
	}
	state.levels[c] = level
}

// ResetComponentLogLevels drops all per-component overrides.
func ResetComponentLogLevels() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.levels = nil
}

// SetLogger replaces the log sink. Level gating stays with this
// package; the sink only formats and writes.
func SetLogger(logger *slog.Logger) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.sink = logger
}

// NewLogger creates a text log sink writing to w, suitable for
// [SetLogger]. Record filtering happens before the sink, so the
// handler itself is created unleveled unless opts say otherwise.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.Level(math.MinInt)}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a JSON log sink writing to w. Like
// [NewLogger], the handler is unleveled unless opts say otherwise.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.Level(math.MinInt)}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// enabled reports whether a record at level from the component passes
// the gate, and returns the sink to write it to.
func enabled(c Component, level slog.Level) (*slog.Logger, bool) {
	state.mu.RLock()
	defer state.mu.RUnlock()

	min := state.level
	if override, ok := state.levels[c]; ok {
		min = override
	}
	if level < min {
		return nil, false
	}
	return state.sink, true
}

// logRecord emits one record tagged with its component.
func logRecord(c Component, level slog.Level, msg string, args []any) {
	sink, ok := enabled(c, level)
	if !ok {
		return
	}
	sink.Log(context.Background(), level, msg,
		append([]any{"component", string(c)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logRecord(component, slog.LevelDebug, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logRecord(component, slog.LevelInfo, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logRecord(component, slog.LevelWarn, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logRecord(component, slog.LevelError, msg, args)
}
