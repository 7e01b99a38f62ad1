// Package memory provides a LoggerInstance that records entries in memory.
// Tests install it with logger.Init to assert on what a component logged.
package memory

import (
	"fmt"
	"strings"
	"sync"
)

type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Field returns the value logged under key, formatted with %v.
func (e Entry) Field(key string) string {
	v, ok := e.Fields[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) record(level, message string, keyvals []any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Level: level, Message: message, Fields: fields})
	m.mu.Unlock()
}

// Entries returns a copy of everything logged so far.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Matching returns the entries at level whose message contains substr.
func (m *MemoryLogger) Matching(level, substr string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLogger) Log(message string, keyvals ...any)   { m.record("log", message, keyvals) }
func (m *MemoryLogger) Debug(message string, keyvals ...any) { m.record("debug", message, keyvals) }
func (m *MemoryLogger) Info(message string, keyvals ...any)  { m.record("info", message, keyvals) }
func (m *MemoryLogger) Warn(message string, keyvals ...any)  { m.record("warn", message, keyvals) }
func (m *MemoryLogger) Error(message string, keyvals ...any) { m.record("error", message, keyvals) }

// Fatal records the entry but does not exit.
func (m *MemoryLogger) Fatal(message string, keyvals ...any) { m.record("fatal", message, keyvals) }
