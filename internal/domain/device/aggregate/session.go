package aggregate

import (
	"strings"
	"sync"
	"time"
)

// Phase 设备自报的运行状态
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseBusy  Phase = "busy"
	PhaseKO    Phase = "ko"
	PhaseError Phase = "error"
)

// ParsePhase maps a device status string onto a Phase. Unknown values are
// reported as PhaseError.
func ParsePhase(raw string) (Phase, bool) {
	switch Phase(strings.ToLower(strings.TrimSpace(raw))) {
	case PhaseIdle:
		return PhaseIdle, true
	case PhaseBusy:
		return PhaseBusy, true
	case PhaseKO:
		return PhaseKO, true
	case PhaseError:
		return PhaseError, true
	default:
		return PhaseError, false
	}
}

// Terminal reports whether polling should stop on this phase.
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseKO || p == PhaseError
}

// Faulted reports whether the phase blocks new fire commands.
func (p Phase) Faulted() bool {
	return p == PhaseKO || p == PhaseError
}

// SessionSnapshot is a point-in-time copy of Session.
type SessionSnapshot struct {
	Phase          Phase     `json:"phase"`
	AtHome         bool      `json:"at_home"`
	LastActivityAt time.Time `json:"last_activity_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Session is the process-wide state of the single physical device. Every
// method holds the lock only for the read-modify-write itself.
type Session struct {
	mu           sync.Mutex
	phase        Phase
	atHome       bool
	lastActivity time.Time
	lastError    string
}

// NewSession starts idle with the activity clock at now.
func NewSession(now time.Time) *Session {
	return &Session{phase: PhaseIdle, lastActivity: now}
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Phase:          s.phase,
		AtHome:         s.atHome,
		LastActivityAt: s.lastActivity,
		LastError:      s.lastError,
	}
}

// MarkDispatched records a device engagement: the clock resets and the
// device is no longer parked.
func (s *Session) MarkDispatched(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	s.atHome = false
}

// RecordPhase stores a phase observed from the device.
func (s *Session) RecordPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	if !p.Faulted() {
		s.lastError = ""
	}
}

// RecordFault persists a faulted phase with its cause.
func (s *Session) RecordFault(p Phase, cause error) {
	if !p.Faulted() {
		p = PhaseError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	if cause != nil {
		s.lastError = cause.Error()
	}
}

// MarkHome is called after a successful recenter.
func (s *Session) MarkHome() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atHome = true
}

// ShouldRecenter reports whether the device has been idle for at least
// idle and is not parked.
func (s *Session) ShouldRecenter(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.atHome && now.Sub(s.lastActivity) >= idle
}

func (s *Session) Faulted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.Faulted()
}

// ClearFault returns the session to idle after an operator stop or reset.
func (s *Session) ClearFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.lastError = ""
}
