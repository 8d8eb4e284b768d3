// Package logging provides the logger collaborator used to report degraded
// but recoverable conditions while flattening.
package logging

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// Level is the severity of a logged entry.
type Level int

const (
	LevelWarning Level = iota
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger receives degraded-condition reports. ctx carries structured details
// (paths, column names, offending values).
type Logger interface {
	Warning(msg string, ctx map[string]any)
	Error(msg string, ctx map[string]any)
}

// Std writes entries through a stdlib *log.Logger.
type Std struct {
	Component string
	Logger    *log.Logger // nil uses the log package default
}

// NewStd returns a Std logger prefixed with component.
func NewStd(component string, l *log.Logger) *Std {
	return &Std{Component: component, Logger: l}
}

func (s *Std) Warning(msg string, ctx map[string]any) { s.print(LevelWarning, msg, ctx) }

func (s *Std) Error(msg string, ctx map[string]any) { s.print(LevelError, msg, ctx) }

func (s *Std) print(level Level, msg string, ctx map[string]any) {
	line := Format(level, msg, ctx)
	if s.Component != "" {
		line = s.Component + ": " + line
	}
	if s.Logger != nil {
		s.Logger.Print(line)
		return
	}
	log.Print(line)
}

// Format renders an entry as "LEVEL: msg k=v ..." with keys sorted.
func Format(level Level, msg string, ctx map[string]any) string {
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteString(": ")
	b.WriteString(msg)
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ctx[k])
	}
	return b.String()
}

// Entry is a single recorded log call.
type Entry struct {
	Level   Level
	Message string
	Context map[string]any
}

func (e Entry) String() string { return Format(e.Level, e.Message, e.Context) }

// Recorder keeps entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Warning(msg string, ctx map[string]any) { r.add(LevelWarning, msg, ctx) }

func (r *Recorder) Error(msg string, ctx map[string]any) { r.add(LevelError, msg, ctx) }

func (r *Recorder) add(level Level, msg string, ctx map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Context: ctx})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries of the given level were recorded.
func (r *Recorder) Count(level Level) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Discard drops every entry.
var Discard Logger = discard{}

type discard struct{}

func (discard) Warning(string, map[string]any) {}
func (discard) Error(string, map[string]any)   {}

// Tee fans each entry out to all loggers.
func Tee(loggers ...Logger) Logger { return tee(loggers) }

type tee []Logger

func (t tee) Warning(msg string, ctx map[string]any) {
	for _, l := range t {
		l.Warning(msg, ctx)
	}
}

func (t tee) Error(msg string, ctx map[string]any) {
	for _, l := range t {
		l.Error(msg, ctx)
	}
}
