package flash

import (
	"github.com/rs/zerolog/log"
)

// State is a sequence phase.
type State int

const (
	StateIdle State = iota
	StateSnapshotting
	StatePulsing
	StateRestoring
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StatePulsing:
		return "pulsing"
	case StateRestoring:
		return "restoring"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s *Sequencer) setState(state State, pulse int) {
	s.mu.Lock()
	s.state = state
	s.pulse = pulse
	s.mu.Unlock()

	log.Debug().Str("state", state.String()).Int("pulse", pulse).Msg("Flash state")
}

// State returns the current phase and, while pulsing, the pulse number.
func (s *Sequencer) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.pulse
}
