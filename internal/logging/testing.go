package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries in memory and offers assertion helpers.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a logger that captures entries at TraceLevel and
// above without writing anywhere.
func NewTestLogger(t testing.TB) *TestLogger {
	t.Helper()
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// Entries returns all recorded entries in order.
func (tl *TestLogger) Entries() []observer.LoggedEntry {
	return tl.observed.All()
}

// AssertLogged fails unless an entry with the given level and message was
// recorded.
func (tl *TestLogger) AssertLogged(t testing.TB, level zapcore.Level, msg string) {
	t.Helper()
	for _, e := range tl.observed.All() {
		if e.Level == level && e.Message == msg {
			return
		}
	}
	t.Errorf("no %v entry with message %q was logged", level, msg)
}

// AssertNotLogged fails if any entry with the given message was recorded.
func (tl *TestLogger) AssertNotLogged(t testing.TB, msg string) {
	t.Helper()
	for _, e := range tl.observed.All() {
		if e.Message == msg {
			t.Errorf("unexpected entry with message %q was logged", msg)
			return
		}
	}
}

// AssertField fails unless an entry with the given message carries the
// field key with the given value.
func (tl *TestLogger) AssertField(t testing.TB, msg, key string, want any) {
	t.Helper()
	for _, e := range tl.observed.All() {
		if e.Message != msg {
			continue
		}
		got, ok := e.ContextMap()[key]
		if !ok {
			t.Errorf("entry %q has no field %q", msg, key)
			return
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("entry %q field %q = %v, want %v", msg, key, got, want)
		}
		return
	}
	t.Errorf("no entry with message %q was logged", msg)
}

// AssertSessionID fails unless the entry with the given message is
// correlated with the session id.
func (tl *TestLogger) AssertSessionID(t testing.TB, msg, sessionID string) {
	t.Helper()
	tl.AssertField(t, msg, "session_id", sessionID)
}

// AssertNoSecrets fails if any recorded entry contains one of the given
// values in its message or fields.
func (tl *TestLogger) AssertNoSecrets(t testing.TB, secrets ...string) {
	t.Helper()
	for _, e := range tl.observed.All() {
		for _, secret := range secrets {
			if secret == "" {
				continue
			}
			if strings.Contains(e.Message, secret) {
				t.Errorf("entry %q leaks secret value", e.Message)
			}
			for key, val := range e.ContextMap() {
				if strings.Contains(fmt.Sprint(val), secret) {
					t.Errorf("entry %q field %q leaks secret value", e.Message, key)
				}
			}
		}
	}
}
