package testutil

import (
	"bytes"
	"sync"
	"time"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Passwords used across tests.
const (
	TestPassword  = "correct-horse"
	WrongPassword = "wrong-pw"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// SampleEntries returns a small set of entries.
func SampleEntries() []models.PasswordEntry {
	return []models.PasswordEntry{
		{ID: "1", Name: "Gmail", Username: "alice@example.com", Password: "p@ss", URL: "https://mail.google.com"},
		{ID: "2", Name: "GitHub", Username: "alice", Password: "gh-secret", TOTPSecret: "JBSWY3DPEHPK3PXP"},
		{ID: "3", Name: "Bank", Password: "1234", Notes: "PIN only"},
	}
}

// FixedClock returns a clock that advances by step on every call.
func FixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}
