// Package orchestrator runs a DJ session: it keeps one deck on air, prepares
// the other, and crossfades between them until the set is over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"DeckPilot/core/device"
	"DeckPilot/core/safety"
	"DeckPilot/core/timing"
	"DeckPilot/logger"
	"DeckPilot/model"
)

const beatsPerBar = 4

// Config tunes one session.
type Config struct {
	PreloadBars        float64 // load the idle deck this many bars before the end
	MixBars            float64 // start the transition this many bars before the end
	CrossfadeSteps     int
	CrossfadeStepDelay time.Duration
	PlayVolume         int
	PreCue             bool // start the loaded idle deck silently right away
	PollInterval       time.Duration
	DefaultTempo       float64
	DefaultTrackLength time.Duration
	MaxTracks          int // transitions before the session ends, 0 for no limit
	Trajectory         []model.EnergyBand
}

func (c Config) withDefaults() Config {
	if c.PreloadBars <= 0 {
		c.PreloadBars = 32
	}
	if c.MixBars <= 0 {
		c.MixBars = 16
	}
	if c.CrossfadeSteps <= 0 {
		c.CrossfadeSteps = 16
	}
	if c.PlayVolume <= 0 || c.PlayVolume > 127 {
		c.PlayVolume = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DefaultTempo <= 0 {
		c.DefaultTempo = 124
	}
	if c.DefaultTrackLength <= 0 {
		c.DefaultTrackLength = 6 * time.Minute
	}
	return c
}

// barsToDuration converts bars at tempo into playback time.
func barsToDuration(bars, tempo float64) time.Duration {
	if tempo <= 0 {
		return 0
	}
	return time.Duration(bars * beatsPerBar * 60 / tempo * float64(time.Second))
}

// Navigator moves the browser cursor. *navigation.Engine implements it.
type Navigator interface {
	ResetAndGround(ctx context.Context) error
	Locate(ctx context.Context, key string, loc model.BrowserLocation) (model.NavigationResult, error)
	State() model.NavigationState
}

// Controller writes device controls. *device.Link implements it.
type Controller interface {
	Set(ctx context.Context, name string, value int) error
	Press(ctx context.Context, name string) error
}

// Deps are the collaborators of a session.
type Deps struct {
	Navigator Navigator
	Link      Controller
	Gate      *safety.Gate
	Selector  *Selector
	Clock     timing.Clock
	Reports   ReportSink
	Observers []Observer
}

// Orchestrator drives one session. Run owns all mutation; Snapshot may be
// called from any goroutine.
type Orchestrator struct {
	cfg      Config
	nav      Navigator
	link     Controller
	gate     *safety.Gate
	selector *Selector
	clock    timing.Clock
	reports  ReportSink
	watchers []Observer
	fanout   *fanout

	mu       sync.RWMutex
	session  model.SessionState
	navState model.NavigationState
	running  bool
	lastErr  string
}

// New prepares a session with deck A on air first.
func New(id string, cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = timing.Real()
	}
	reports := deps.Reports
	if reports == nil {
		reports = LogSink{}
	}
	return &Orchestrator{
		cfg:      cfg,
		nav:      deps.Navigator,
		link:     deps.Link,
		gate:     deps.Gate,
		selector: deps.Selector,
		clock:    clock,
		reports:  reports,
		watchers: deps.Observers,
		session: model.SessionState{
			ID:               id,
			ActiveDeck:       model.DeckA,
			IdleDeck:         model.DeckB,
			MaxTracks:        cfg.MaxTracks,
			EnergyTrajectory: cfg.Trajectory,
			Phase:            model.PhaseIdle,
			StartedAt:        clock.Now(),
		},
	}
}

// Run plays the session until the track budget is used, ctx is cancelled or
// a fatal error occurs. A cancelled ctx is a normal stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	o.fanout = newFanout(o.watchers)
	defer o.fanout.close()

	logger.Info("session started",
		logger.String("session", o.session.ID),
		logger.Int("maxTracks", o.cfg.MaxTracks))

	err := o.open(ctx)
	for err == nil && ctx.Err() == nil && !o.session.Done() {
		err = o.step(ctx)
	}
	return o.finish(ctx, err)
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() model.SessionSnapshot {
	o.mu.RLock()
	s := o.session
	s.Played = append([]int64(nil), o.session.Played...)
	snap := model.SessionSnapshot{
		Running:    o.running,
		Session:    s,
		Navigation: o.navState,
		Error:      o.lastErr,
	}
	o.mu.RUnlock()
	snap.Decks = o.gate.Decks()
	snap.At = o.clock.Now()
	return snap
}

// update records an action and publishes a snapshot.
func (o *Orchestrator) update(action string, fn func(s *model.SessionState)) {
	o.mu.Lock()
	if fn != nil {
		fn(&o.session)
	}
	o.session.LastAction = action
	o.navState = o.nav.State()
	o.mu.Unlock()
	if o.fanout != nil {
		o.fanout.send(o.Snapshot())
	}
}

func (o *Orchestrator) setPhase(p model.Phase, action string) {
	o.update(action, func(s *model.SessionState) { s.Phase = p })
}

func (o *Orchestrator) deck(id model.DeckID) model.DeckState {
	d, _ := o.gate.Deck(id)
	return d
}

func (o *Orchestrator) currentBand() *model.EnergyBand {
	if b, ok := o.session.CurrentBand(); ok {
		return &b
	}
	return nil
}

func (o *Orchestrator) tempoOf(d model.DeckState) float64 {
	if d.LoadedTrack != nil && d.LoadedTrack.Tempo > 0 {
		return d.LoadedTrack.Tempo
	}
	return o.cfg.DefaultTempo
}

// open brings the first track on air, or adopts a deck that is already
// playing from an earlier session.
func (o *Orchestrator) open(ctx context.Context) error {
	o.setPhase(model.PhaseLoading, "grounding browser")
	if err := o.nav.ResetAndGround(ctx); err != nil {
		return fmt.Errorf("ground browser: %w", err)
	}

	if adopted, err := o.adopt(ctx); adopted || err != nil {
		return err
	}

	// Nothing is audible; silent leftovers can be stopped.
	for _, d := range o.gate.Decks() {
		if d.Playing {
			if err := o.pause(ctx, d.ID); err != nil {
				return err
			}
		}
	}

	active := o.session.ActiveDeck
	sel, err := o.selector.Opening(ctx, o.currentBand())
	if err != nil {
		return fmt.Errorf("select opening track: %w", err)
	}
	if err := o.load(ctx, active, sel); err != nil {
		return err
	}
	if err := o.setCrossfader(ctx, active, crossfaderSide(active)); err != nil {
		return err
	}
	if err := o.takeMaster(ctx, active); err != nil {
		return err
	}
	if err := o.play(ctx, active); err != nil {
		return err
	}
	if err := o.setVolume(ctx, active, o.cfg.PlayVolume); err != nil {
		return err
	}
	o.setPhase(model.PhasePlaying, fmt.Sprintf("on air: %s", sel.Track.Title))
	return nil
}

func (o *Orchestrator) adopt(ctx context.Context) (bool, error) {
	for _, d := range o.gate.Decks() {
		if !d.Playing || d.LoadedTrack == nil || d.Volume == 0 {
			continue
		}
		active, idle := d.ID, d.ID.Other()
		o.update("adopting playing deck "+string(active), func(s *model.SessionState) {
			s.ActiveDeck, s.IdleDeck = active, idle
		})
		if err := o.takeMaster(ctx, active); err != nil {
			return true, err
		}
		if other := o.deck(idle); other.Playing && other.Volume == 0 {
			if err := o.pause(ctx, idle); err != nil {
				return true, err
			}
		}
		o.gate.Update(idle, func(d *model.DeckState) { d.LoadedTrack = nil })
		o.setPhase(model.PhasePlaying, fmt.Sprintf("on air: %s", d.LoadedTrack.Title))
		return true, nil
	}
	return false, nil
}

// step runs one iteration of the main loop.
func (o *Orchestrator) step(ctx context.Context) error {
	active := o.deck(o.session.ActiveDeck)
	idle := o.deck(o.session.IdleDeck)
	tempo := o.tempoOf(active)
	left := active.Remaining(o.clock.Now(), o.cfg.DefaultTrackLength)

	var err error
	switch {
	case idle.LoadedTrack == nil && left <= barsToDuration(o.cfg.PreloadBars, tempo):
		err = o.preload(ctx)
	case idle.LoadedTrack != nil && left <= barsToDuration(o.cfg.MixBars, tempo):
		err = o.mix(ctx)
	default:
		return o.clock.Sleep(ctx, o.cfg.PollInterval)
	}
	if errors.Is(err, safety.ErrSafetyVeto) {
		o.setPhase(model.PhasePlaying, "skipped: "+err.Error())
		return o.clock.Sleep(ctx, o.cfg.PollInterval)
	}
	return err
}

func (o *Orchestrator) exclusions() (played, onAir map[int64]bool) {
	played = make(map[int64]bool, len(o.session.Played))
	for _, id := range o.session.Played {
		played[id] = true
	}
	onAir = make(map[int64]bool, 2)
	for _, d := range o.gate.Decks() {
		if d.LoadedTrack != nil {
			onAir[d.LoadedTrack.ID] = true
		}
	}
	return played, onAir
}

// preload selects the next track and loads it on the idle deck.
func (o *Orchestrator) preload(ctx context.Context) error {
	active, idle := o.session.ActiveDeck, o.session.IdleDeck
	o.setPhase(model.PhaseLoading, "selecting next track")

	played, onAir := o.exclusions()
	sel, err := o.selector.Next(ctx, o.deck(active).LoadedTrack, played, onAir, o.currentBand())
	if err != nil {
		return fmt.Errorf("select next track: %w", err)
	}
	if err := o.load(ctx, idle, sel); err != nil {
		return err
	}
	if o.cfg.PreCue {
		if err := o.play(ctx, idle); err != nil {
			return err
		}
	}
	o.setPhase(model.PhasePlaying, fmt.Sprintf("cued on %s: %s", idle, sel.Track.Title))
	return nil
}

// load navigates to the track and loads it on deck, gated.
func (o *Orchestrator) load(ctx context.Context, deck model.DeckID, sel Selection) error {
	t := sel.Track
	if err := o.gate.Approve(ctx, safety.ActionLoad, deck); err != nil {
		return err
	}
	o.update(fmt.Sprintf("navigating to %s", t.Location()), nil)
	res, err := o.nav.Locate(ctx, t.OffsetKey(), t.Location())
	if err != nil {
		return fmt.Errorf("locate track %d: %w", t.ID, err)
	}
	if err := o.link.Press(ctx, device.DeckControl(deck, device.DeckLoad)); err != nil {
		return fmt.Errorf("load deck %s: %w", deck, err)
	}
	o.gate.Update(deck, func(d *model.DeckState) {
		d.LoadedTrack = &t
		d.Playing = false
		d.StartedAt = time.Time{}
	})
	if err := o.gate.ApplyPostConditions(ctx, safety.ActionLoad, deck); err != nil {
		return err
	}
	o.update(fmt.Sprintf("loaded %q on %s", t.Title, deck), func(s *model.SessionState) {
		s.Played = append(s.Played, t.ID)
	})
	logger.Info("track loaded",
		logger.Deck(string(deck)),
		logger.Track(t.ID, t.Title),
		logger.String("reason", string(sel.Reason)),
		logger.Int("moves", res.Moves),
		logger.Duration("navigation", res.Elapsed))
	return nil
}

// mix crossfades from the active to the idle deck and swaps their roles.
func (o *Orchestrator) mix(ctx context.Context) error {
	out, in := o.session.ActiveDeck, o.session.IdleDeck
	o.setPhase(model.PhaseMixing, fmt.Sprintf("mixing %s into %s", out, in))

	if err := o.setSync(ctx, in, true); err != nil {
		return err
	}
	if !o.deck(in).Playing {
		if err := o.play(ctx, in); err != nil {
			return err
		}
	}
	if err := o.crossfade(ctx, out, in); err != nil {
		return err
	}
	if err := o.pause(ctx, out); err != nil {
		return err
	}
	if err := o.setSync(ctx, out, false); err != nil {
		return err
	}
	// The finished track is spent; the deck counts as empty for preloading.
	o.gate.Update(out, func(d *model.DeckState) { d.LoadedTrack = nil })

	o.update("transition complete", func(s *model.SessionState) {
		s.Swap()
		s.TracksPlayed++
		s.Phase = model.PhasePlaying
	})
	logger.Info("transition complete",
		logger.String("onAir", string(in)),
		logger.Int("tracksPlayed", o.session.TracksPlayed))
	return nil
}

func (o *Orchestrator) setVolume(ctx context.Context, deck model.DeckID, v int) error {
	if err := o.gate.Approve(ctx, safety.ActionSetVolume, deck); err != nil {
		return err
	}
	if err := o.link.Set(ctx, device.DeckControl(deck, device.DeckVolume), v); err != nil {
		return err
	}
	o.gate.Update(deck, func(d *model.DeckState) { d.Volume = uint8(v) })
	return nil
}

func (o *Orchestrator) play(ctx context.Context, deck model.DeckID) error {
	if err := o.gate.Approve(ctx, safety.ActionPlay, deck); err != nil {
		return err
	}
	if err := o.link.Set(ctx, device.DeckControl(deck, device.DeckPlay), 127); err != nil {
		return err
	}
	now := o.clock.Now()
	o.gate.Update(deck, func(d *model.DeckState) {
		d.Playing = true
		d.StartedAt = now
	})
	return nil
}

func (o *Orchestrator) pause(ctx context.Context, deck model.DeckID) error {
	if err := o.gate.Approve(ctx, safety.ActionPause, deck); err != nil {
		return err
	}
	if err := o.link.Set(ctx, device.DeckControl(deck, device.DeckPlay), 0); err != nil {
		return err
	}
	o.gate.Update(deck, func(d *model.DeckState) {
		d.Playing = false
		d.StartedAt = time.Time{}
	})
	return nil
}

func (o *Orchestrator) setSync(ctx context.Context, deck model.DeckID, on bool) error {
	if err := o.gate.Approve(ctx, safety.ActionSync, deck); err != nil {
		return err
	}
	v := 0
	if on {
		v = 127
	}
	if err := o.link.Set(ctx, device.DeckControl(deck, device.DeckSync), v); err != nil {
		return err
	}
	o.gate.Update(deck, func(d *model.DeckState) { d.SyncEnabled = on })
	return nil
}

func (o *Orchestrator) takeMaster(ctx context.Context, deck model.DeckID) error {
	if o.deck(deck).IsMaster {
		return nil
	}
	if o.deck(deck.Other()).IsMaster {
		return o.gate.TransferMaster(ctx, deck.Other(), deck)
	}
	return o.gate.AssignMaster(ctx, deck)
}

// finish ends the session. Losing the device aborts without touching the
// mixer; anything else runs the cleanup pass.
func (o *Orchestrator) finish(ctx context.Context, runErr error) error {
	if runErr != nil && ctx.Err() != nil &&
		(errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		runErr = nil
	}
	bg := context.WithoutCancel(ctx)

	if runErr != nil {
		fatal := errors.Is(runErr, device.ErrUnavailable)
		o.mu.Lock()
		o.lastErr = runErr.Error()
		o.mu.Unlock()
		o.report(bg, runErr, fatal)
		if fatal {
			logger.Error("device link lost, session aborted without cleanup", logger.ErrorField(runErr))
			o.endRun(model.PhaseIdle, "aborted: device unavailable")
			return runErr
		}
		logger.Error("session aborted", logger.ErrorField(runErr))
	}

	if err := o.cleanup(bg); err != nil {
		logger.Warn("cleanup incomplete", logger.ErrorField(err))
	}
	if err := o.gate.CheckInvariants(); err != nil {
		logger.Error("deck invariants violated at session end", logger.ErrorField(err))
	}
	logger.Info("session ended",
		logger.String("session", o.session.ID),
		logger.Int("tracksPlayed", o.session.TracksPlayed))
	o.endRun(model.PhaseIdle, "session ended")
	return runErr
}

func (o *Orchestrator) endRun(p model.Phase, action string) {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.setPhase(p, action)
}

// cleanup leaves the mixer neutral: the idle deck paused and silent, EQs
// centered, crossfader on the deck that is on air, sync off on the idle deck.
func (o *Orchestrator) cleanup(ctx context.Context) error {
	// Cancelled past the crossover the incoming deck already holds master
	// and is the one on air.
	if o.deck(o.session.IdleDeck).IsMaster {
		o.update("adopting incoming deck after interrupted transition", func(s *model.SessionState) { s.Swap() })
	}
	active, idle := o.session.ActiveDeck, o.session.IdleDeck

	var errs []error
	try := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	try(o.setVolume(ctx, idle, 0))
	try(o.pause(ctx, idle))
	for _, deck := range []model.DeckID{active, idle} {
		for _, band := range []string{device.DeckEQLow, device.DeckEQMid, device.DeckEQHigh} {
			try(o.link.Set(ctx, device.DeckControl(deck, band), safety.EQNeutral))
		}
	}
	try(o.setCrossfader(ctx, active, crossfaderSide(active)))
	try(o.setSync(ctx, idle, false))
	if o.deck(active).Playing {
		try(o.setVolume(ctx, active, o.cfg.PlayVolume))
	}
	return errors.Join(errs...)
}
