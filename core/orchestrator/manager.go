package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DeckPilot/core/device"
	"DeckPilot/logger"
	"DeckPilot/model"

	"github.com/google/uuid"
)

var (
	// ErrSessionRunning rejects work that needs exclusive use of the device.
	ErrSessionRunning = errors.New("a session is running")
	ErrUnknownSession = errors.New("unknown session")
)

// ReasonManual marks an ad hoc load.
const ReasonManual Reason = "manual"

// SessionHandle identifies a started session.
type SessionHandle struct {
	ID        string    `json:"id"`
	MaxTracks int       `json:"maxTracks"`
	StartedAt time.Time `json:"startedAt"`
}

// TrackGetter looks up single tracks for ad hoc loads.
type TrackGetter interface {
	GetTrack(ctx context.Context, id int64) (*model.Track, error)
}

type controlSetter interface {
	SetControls(m device.ControlMap)
}

type sessionRun struct {
	handle SessionHandle
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Manager runs at most one session at a time, since the device link is
// exclusive, and serves ad hoc actions between sessions.
type Manager struct {
	cfg    Config
	deps   Deps
	tracks TrackGetter

	mu      sync.Mutex
	current *sessionRun
	last    *sessionRun
	adhoc   bool
}

// NewManager creates a manager. Every session gets cfg and deps; tracks
// serves LoadNow and may be nil.
func NewManager(cfg Config, deps Deps, tracks TrackGetter) *Manager {
	return &Manager{cfg: cfg, deps: deps, tracks: tracks}
}

// StartSession starts a session in the background. maxTracks < 0 keeps the
// configured limit, 0 means no limit. The session outlives ctx.
func (m *Manager) StartSession(ctx context.Context, maxTracks int) (SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil || m.adhoc {
		return SessionHandle{}, ErrSessionRunning
	}

	cfg := m.cfg
	if maxTracks >= 0 {
		cfg.MaxTracks = maxTracks
	}
	id := uuid.NewString()
	orch := New(id, cfg, m.deps)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &sessionRun{
		handle: SessionHandle{ID: id, MaxTracks: cfg.MaxTracks, StartedAt: orch.Snapshot().Session.StartedAt},
		orch:   orch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.current = r

	go func() {
		err := orch.Run(runCtx)
		cancel()
		m.mu.Lock()
		r.err = err
		m.current = nil
		m.last = r
		m.mu.Unlock()
		close(r.done)
	}()

	logger.Info("session scheduled", logger.String("session", id), logger.Int("maxTracks", cfg.MaxTracks))
	return r.handle, nil
}

func (m *Manager) lookup(h SessionHandle) (*sessionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range []*sessionRun{m.current, m.last} {
		if r != nil && r.handle.ID == h.ID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSession, h.ID)
}

// StopSession cancels the session and waits for its cleanup. It returns the
// error the session ended with, nil for a normal stop.
func (m *Manager) StopSession(h SessionHandle) error {
	r, err := m.lookup(h)
	if err != nil {
		return err
	}
	r.cancel()
	<-r.done
	return r.err
}

// Wait blocks until the session ends on its own or ctx is done.
func (m *Manager) Wait(ctx context.Context, h SessionHandle) error {
	r, err := m.lookup(h)
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the handle of the running session.
func (m *Manager) Current() (SessionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return SessionHandle{}, false
	}
	return m.current.handle, true
}

// Status returns the running session's snapshot, or the last one after it
// ended.
func (m *Manager) Status() model.SessionSnapshot {
	m.mu.Lock()
	r := m.current
	if r == nil {
		r = m.last
	}
	m.mu.Unlock()
	if r == nil {
		snap := model.SessionSnapshot{Session: model.SessionState{Phase: model.PhaseIdle}}
		if m.deps.Gate != nil {
			snap.Decks = m.deps.Gate.Decks()
		}
		return snap
	}
	return r.orch.Snapshot()
}

// LoadNow loads one track on deck outside a session, through the same
// navigation and safety checks a session uses.
func (m *Manager) LoadNow(ctx context.Context, deck model.DeckID, trackID int64) (model.DeckState, error) {
	if m.tracks == nil {
		return model.DeckState{}, errors.New("no track store configured")
	}
	m.mu.Lock()
	if m.current != nil || m.adhoc {
		m.mu.Unlock()
		return model.DeckState{}, ErrSessionRunning
	}
	m.adhoc = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.adhoc = false
		m.mu.Unlock()
	}()

	t, err := m.tracks.GetTrack(ctx, trackID)
	if err != nil {
		return model.DeckState{}, err
	}
	orch := New("adhoc", m.cfg, m.deps)
	if err := orch.load(ctx, deck, Selection{Track: *t, Reason: ReasonManual, Distance: -1}); err != nil {
		return model.DeckState{}, err
	}
	return orch.deck(deck), nil
}

// ApplyControls swaps the device control map between sessions.
func (m *Manager) ApplyControls(cm device.ControlMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil || m.adhoc {
		return ErrSessionRunning
	}
	cs, ok := m.deps.Link.(controlSetter)
	if !ok {
		return errors.New("link does not support control maps")
	}
	cs.SetControls(cm)
	logger.Info("control map applied", logger.Int("controls", len(cm)))
	return nil
}
