// Package supervisor tracks the bot's liveness for the ops endpoints.
package supervisor

import (
	"sync"
	"time"
)

const activityWindow = 5 * time.Minute

// Status values reported by Snapshot.
const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

type Snapshot struct {
	Running      bool      `json:"running"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu           sync.Mutex
	running      bool
	startedAt    time.Time
	lastActivity time.Time
	lastError    string

	now func() time.Time
}

func New() *Supervisor {
	return &Supervisor{now: time.Now}
}

func (s *Supervisor) Started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.startedAt = s.now()
	s.lastActivity = s.startedAt
	s.lastError = ""
}

func (s *Supervisor) Stopped(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		s.lastError = err.Error()
	}
}

// RecordActivity marks the bot as actively handling messages.
func (s *Supervisor) RecordActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

func (s *Supervisor) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:      s.running,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
		LastError:    s.lastError,
	}
	switch {
	case !s.running:
		snap.Status = StatusOffline
	case s.now().Sub(s.lastActivity) <= activityWindow:
		snap.Status = StatusOnline
	default:
		snap.Status = StatusIdle
	}
	return snap
}
