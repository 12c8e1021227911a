package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// TestLogEntry is one captured log call.
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// TestLogger captures log entries for assertions in tests. Derived loggers
// returned by With/WithPrefix append into the same entry list.
type TestLogger struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) With(map[string]interface{}) Logger { return c }
func (c *TestLogger) WithPrefix(string) Logger           { return c }

func (c *TestLogger) log(severity string, msg string, args ...interface{}) {
	c.mu.Lock()
	c.entries = append(c.entries, TestLogEntry{severity, msg, args})
	c.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.log("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.log("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.log("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.log("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.log("ERROR", msg, args...) }

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.log("FATAL", msg, args...)
	os.Exit(1)
}

func (c *TestLogger) IsLevelEnabled(LogLevel) bool { return true }

// Entries returns a copy of everything logged so far.
func (c *TestLogger) Entries() []TestLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestLogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether any captured message (after formatting) contains sub.
func (c *TestLogger) Contains(sub string) bool {
	for _, e := range c.Entries() {
		if strings.Contains(fmt.Sprintf(e.Message, e.Arguments...), sub) {
			return true
		}
	}
	return false
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}
