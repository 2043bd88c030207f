package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseLoading Phase = "LOADING"
	PhasePlaying Phase = "PLAYING"
	PhaseMixing  Phase = "MIXING"
)

// EnergyBand is one step of the planned energy trajectory.
type EnergyBand struct {
	MinTempo float64 `json:"minTempo"`
	MaxTempo float64 `json:"maxTempo"`
}

// Contains reports whether tempo falls inside the band.
func (b EnergyBand) Contains(tempo float64) bool {
	return tempo >= b.MinTempo && tempo <= b.MaxTempo
}

// ParseTrajectory parses "120-124,124-128" into bands.
func ParseTrajectory(s string) ([]EnergyBand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var bands []EnergyBand
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, fmt.Errorf("energy band %q: expected min-max", part)
		}
		minT, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("energy band %q: %w", part, err)
		}
		maxT, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("energy band %q: %w", part, err)
		}
		if maxT < minT {
			return nil, fmt.Errorf("energy band %q: max below min", part)
		}
		bands = append(bands, EnergyBand{MinTempo: minT, MaxTempo: maxT})
	}
	return bands, nil
}

// SessionState is created at session start and discarded at session end.
type SessionState struct {
	ID               string       `json:"id"`
	ActiveDeck       DeckID       `json:"activeDeck"`
	IdleDeck         DeckID       `json:"idleDeck"`
	TracksPlayed     int          `json:"tracksPlayed"`
	MaxTracks        int          `json:"maxTracks"` // 0 means unlimited
	EnergyTrajectory []EnergyBand `json:"energyTrajectory,omitempty"`
	Phase            Phase        `json:"phase"`
	LastAction       string       `json:"lastAction"`
	StartedAt        time.Time    `json:"startedAt"`
	Played           []int64      `json:"played"`
}

// CurrentBand returns the energy band for the next track, if any.
func (s *SessionState) CurrentBand() (EnergyBand, bool) {
	if len(s.EnergyTrajectory) == 0 {
		return EnergyBand{}, false
	}
	idx := s.TracksPlayed
	if idx >= len(s.EnergyTrajectory) {
		idx = len(s.EnergyTrajectory) - 1
	}
	return s.EnergyTrajectory[idx], true
}

// Swap exchanges the active and idle deck roles.
func (s *SessionState) Swap() {
	s.ActiveDeck, s.IdleDeck = s.IdleDeck, s.ActiveDeck
}

// Done reports whether the configured track budget is used up.
func (s *SessionState) Done() bool {
	return s.MaxTracks > 0 && s.TracksPlayed >= s.MaxTracks
}

// SessionReport is produced when a session ends on a fatal error, with enough
// detail to resume manually.
type SessionReport struct {
	SessionID    string          `json:"sessionId"`
	Phase        Phase           `json:"phase"`
	LastAction   string          `json:"lastAction"`
	TracksPlayed int             `json:"tracksPlayed"`
	Decks        []DeckState     `json:"decks"`
	Navigation   NavigationState `json:"navigation"`
	Error        string          `json:"error"`
	Fatal        bool            `json:"fatal"`
	EndedAt      time.Time       `json:"endedAt"`
}

// SessionSnapshot is the read-only view pushed to status observers.
type SessionSnapshot struct {
	Running    bool            `json:"running"`
	Session    SessionState    `json:"session"`
	Decks      []DeckState     `json:"decks"`
	Navigation NavigationState `json:"navigation"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}
