// Package coreservice hosts the cognition orchestrator behind HTTP:
// packet processing, GPU release/reclaim, and the sleep/wake cycle.
package coreservice

import (
	"fmt"
	"log/slog"
	"sync"
)

// Sleep states.
const (
	StateActive     = "active"
	StateDrowsy     = "drowsy"
	StateAsleep     = "asleep"
	StateDreaming   = "dreaming"
	StateDistracted = "distracted"
	StateOffline    = "offline"
)

var validStates = map[string]bool{
	StateActive:     true,
	StateDrowsy:     true,
	StateAsleep:     true,
	StateDreaming:   true,
	StateDistracted: true,
	StateOffline:    true,
}

// cannedResponses are returned to callers while the core cannot take a
// normal turn.
var cannedResponses = map[string]string{
	StateAsleep:     "I'm asleep right now. I'll catch up with you when I wake.",
	StateDreaming:   "I'm in the middle of consolidating memories. Back shortly.",
	StateDistracted: "I'm a little distracted at the moment, give me a second.",
}

// SleepState holds the core's current sleep/wake state. It satisfies the
// heartbeat scheduler's CoreState collaborator.
type SleepState struct {
	mu     sync.Mutex
	state  string
	logger *slog.Logger
}

// NewSleepState starts in the active state.
func NewSleepState() *SleepState {
	return &SleepState{state: StateActive, logger: slog.Default()}
}

// State returns the current state name.
func (s *SleepState) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set transitions to the named state. Offline is terminal except for an
// explicit wake.
func (s *SleepState) Set(state string) error {
	if !validStates[state] {
		return fmt.Errorf("unknown sleep state: %s", state)
	}
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Info("sleep state changed", "from", prev, "to", state)
	}
	return nil
}

// Wake forces the active state.
func (s *SleepState) Wake() error {
	return s.Set(StateActive)
}

// CannedResponse returns the short user-facing line for states that
// cannot take a turn, or "" when normal processing applies.
func (s *SleepState) CannedResponse() string {
	return cannedResponses[s.State()]
}

// CanProcess reports whether a user turn may run right now.
func (s *SleepState) CanProcess() bool {
	switch s.State() {
	case StateActive, StateDrowsy:
		return true
	}
	return false
}
