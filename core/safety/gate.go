// Package safety owns the believed deck state and vetoes device actions that
// would interrupt or corrupt what the audience hears.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"DeckPilot/core/device"
	"DeckPilot/logger"
	"DeckPilot/model"
)

// EQNeutral is the center detent of the EQ knobs.
const EQNeutral = 64

// ErrSafetyVeto is wrapped by every VetoError.
var ErrSafetyVeto = errors.New("safety veto")

// ErrMultipleMasters is returned by CheckInvariants.
var ErrMultipleMasters = errors.New("more than one deck is tempo master")

// ActionKind is a device action subject to approval.
type ActionKind int

const (
	ActionLoad ActionKind = iota
	ActionPlay
	ActionPause
	ActionSetMaster
	ActionSetVolume
	ActionSync
	ActionCrossfade
)

func (a ActionKind) String() string {
	switch a {
	case ActionLoad:
		return "load"
	case ActionPlay:
		return "play"
	case ActionPause:
		return "pause"
	case ActionSetMaster:
		return "set_master"
	case ActionSetVolume:
		return "set_volume"
	case ActionSync:
		return "sync"
	case ActionCrossfade:
		return "crossfade"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// VetoError explains a rejected action.
type VetoError struct {
	Action ActionKind
	Deck   model.DeckID
	Reason string
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("safety veto: %s on deck %s: %s", e.Action, e.Deck, e.Reason)
}

func (e *VetoError) Unwrap() error { return ErrSafetyVeto }

// Controller is the part of the device link the gate drives.
type Controller interface {
	Set(ctx context.Context, name string, value int) error
}

// Gate guards the decks. All deck state changes go through it so readers on
// other goroutines see consistent snapshots.
type Gate struct {
	mu    sync.RWMutex
	link  Controller
	decks map[model.DeckID]*model.DeckState
	order []model.DeckID
}

// New creates a gate over stopped, silent decks.
func New(link Controller, ids ...model.DeckID) *Gate {
	if len(ids) == 0 {
		ids = []model.DeckID{model.DeckA, model.DeckB}
	}
	g := &Gate{link: link, decks: make(map[model.DeckID]*model.DeckState, len(ids)), order: ids}
	for _, id := range ids {
		g.decks[id] = &model.DeckState{ID: id}
	}
	return g
}

// Deck returns a snapshot of one deck.
func (g *Gate) Deck(id model.DeckID) (model.DeckState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.decks[id]
	if !ok {
		return model.DeckState{}, false
	}
	return d.Clone(), true
}

// Decks returns snapshots of all decks in creation order.
func (g *Gate) Decks() []model.DeckState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.DeckState, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.decks[id].Clone())
	}
	return out
}

// Update records a change the caller already sent to the device.
func (g *Gate) Update(id model.DeckID, fn func(d *model.DeckState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.decks[id]; ok {
		fn(d)
	}
}

// Approve decides whether action may run on deck. Approving a load also
// forces the deck volume to zero on the device.
func (g *Gate) Approve(ctx context.Context, action ActionKind, deck model.DeckID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.decks[deck]
	if !ok {
		return g.veto(action, deck, "unknown deck")
	}

	switch action {
	case ActionLoad:
		if d.Playing {
			return g.veto(action, deck, "deck is playing")
		}
		if err := g.link.Set(ctx, device.DeckControl(deck, device.DeckVolume), 0); err != nil {
			return fmt.Errorf("silence deck %s before load: %w", deck, err)
		}
		d.Volume = 0
	case ActionPlay:
		if d.LoadedTrack == nil {
			return g.veto(action, deck, "no track loaded")
		}
	case ActionSetMaster:
		for id, other := range g.decks {
			if id != deck && other.IsMaster {
				return g.veto(action, deck, fmt.Sprintf("deck %s is master", id))
			}
		}
	}
	return nil
}

func (g *Gate) veto(action ActionKind, deck model.DeckID, reason string) error {
	err := &VetoError{Action: action, Deck: deck, Reason: reason}
	logger.Warn("action vetoed",
		logger.String("action", action.String()),
		logger.Deck(string(deck)),
		logger.String("reason", reason))
	return err
}

// ApplyPostConditions restores a known mixer state after action. After a
// load the EQ goes neutral and the volume stays at zero.
func (g *Gate) ApplyPostConditions(ctx context.Context, action ActionKind, deck model.DeckID) error {
	if action != ActionLoad {
		return nil
	}
	for _, band := range []string{device.DeckEQLow, device.DeckEQMid, device.DeckEQHigh} {
		if err := g.link.Set(ctx, device.DeckControl(deck, band), EQNeutral); err != nil {
			return fmt.Errorf("neutral eq on deck %s: %w", deck, err)
		}
	}
	if err := g.link.Set(ctx, device.DeckControl(deck, device.DeckVolume), 0); err != nil {
		return fmt.Errorf("silence deck %s after load: %w", deck, err)
	}
	g.Update(deck, func(d *model.DeckState) { d.Volume = 0 })
	return nil
}

// AssignMaster makes deck the tempo master when no other deck is.
func (g *Gate) AssignMaster(ctx context.Context, deck model.DeckID) error {
	if err := g.Approve(ctx, ActionSetMaster, deck); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.link.Set(ctx, device.DeckControl(deck, device.DeckMaster), 127); err != nil {
		return fmt.Errorf("set master on deck %s: %w", deck, err)
	}
	g.decks[deck].IsMaster = true
	return nil
}

// TransferMaster moves the master role from one deck to the other. The old
// master is released first, so the two flags are never set together.
func (g *Gate) TransferMaster(ctx context.Context, from, to model.DeckID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.decks[from]
	if !ok {
		return g.veto(ActionSetMaster, from, "unknown deck")
	}
	dst, ok := g.decks[to]
	if !ok {
		return g.veto(ActionSetMaster, to, "unknown deck")
	}
	if err := g.link.Set(ctx, device.DeckControl(from, device.DeckMaster), 0); err != nil {
		return fmt.Errorf("release master on deck %s: %w", from, err)
	}
	src.IsMaster = false
	if err := g.link.Set(ctx, device.DeckControl(to, device.DeckMaster), 127); err != nil {
		return fmt.Errorf("set master on deck %s: %w", to, err)
	}
	dst.IsMaster = true
	logger.Info("tempo master transferred", logger.String("from", string(from)), logger.String("to", string(to)))
	return nil
}

// CheckInvariants verifies that at most one deck is master.
func (g *Gate) CheckInvariants() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var masters []model.DeckID
	for _, id := range g.order {
		if g.decks[id].IsMaster {
			masters = append(masters, id)
		}
	}
	if len(masters) > 1 {
		return fmt.Errorf("%w: %v", ErrMultipleMasters, masters)
	}
	return nil
}
