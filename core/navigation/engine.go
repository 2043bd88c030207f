// Package navigation drives the media browser of the mixing application
// blind: it only knows where the cursor should be, from counting its own
// relative moves since the last grounding.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DeckPilot/core/device"
	"DeckPilot/core/timing"
	"DeckPilot/logger"
	"DeckPilot/model"
)

var (
	// ErrNavigationDrift means the cursor is not where the engine believes,
	// even after re-grounding.
	ErrNavigationDrift = errors.New("navigation drift")
	ErrInvalidTarget   = errors.New("navigation: invalid target")
)

// DriftError carries the failed target. Row is set when a row inside a
// folder could not be confirmed; Target is then the folder row.
type DriftError struct {
	Target   int
	Attempts int
	Row      string
}

func (e *DriftError) Error() string {
	if e.Row != "" {
		return fmt.Sprintf("navigation drift: row %s not confirmed after %d attempts", e.Row, e.Attempts)
	}
	return fmt.Sprintf("navigation drift: position %d not confirmed after %d attempts", e.Target, e.Attempts)
}

func (e *DriftError) Unwrap() error { return ErrNavigationDrift }

// Commander presses browser controls. *device.Link implements it.
type Commander interface {
	Press(ctx context.Context, control string) error
}

// Probe checks the real cursor position against the expected root row.
type Probe interface {
	Verify(ctx context.Context, want int) (bool, error)
}

// LocationVerifier is implemented by checkers that can also confirm a row
// inside an expanded folder.
type LocationVerifier interface {
	VerifyLocation(ctx context.Context, loc model.BrowserLocation) (bool, error)
}

// Config holds the timing contracts of the browser.
type Config struct {
	GroundMoves    int           // "up" presses to reach the top, >= depth x width
	CollapsePasses int           // "collapse" presses after reaching the top
	GroundDelay    time.Duration // settle after each grounding move
	MoveDelay      time.Duration // settle after a flat-list move
	FolderDelay    time.Duration // settle after a move onto or off a folder row
	ExpandDelay    time.Duration // settle after expanding a folder
}

// Engine owns the navigation state. It is not safe for concurrent use; the
// orchestrator loop is its only caller.
type Engine struct {
	link    Commander
	clock   timing.Clock
	cfg     Config
	probe   Probe
	offsets *OffsetTable
	folders map[int]model.BrowserNode

	state      model.NavigationState
	groundings int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbe enables verification after each absolute navigation.
func WithProbe(p Probe) Option { return func(e *Engine) { e.probe = p } }

// WithOffsets attaches an offset table.
func WithOffsets(t *OffsetTable) Option { return func(e *Engine) { e.offsets = t } }

// WithLayout declares the folder rows of the collapsed root list.
func WithLayout(nodes []model.BrowserNode) Option {
	return func(e *Engine) { e.SetLayout(nodes) }
}

// New creates an ungrounded engine.
func New(link Commander, clock timing.Clock, cfg Config, opts ...Option) *Engine {
	if cfg.GroundMoves <= 0 {
		cfg.GroundMoves = 200
	}
	if cfg.CollapsePasses <= 0 {
		cfg.CollapsePasses = 1
	}
	e := &Engine{link: link, clock: clock, cfg: cfg, folders: map[int]model.BrowserNode{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLayout replaces the known folder rows.
func (e *Engine) SetLayout(nodes []model.BrowserNode) {
	e.folders = make(map[int]model.BrowserNode, len(nodes))
	for _, n := range nodes {
		e.folders[n.RelativeOffset] = n
	}
}

// State returns a copy of the navigation state.
func (e *Engine) State() model.NavigationState { return e.state }

// Groundings counts ResetAndGround calls that completed.
func (e *Engine) Groundings() int { return e.groundings }

// Offsets returns the attached offset table, possibly nil.
func (e *Engine) Offsets() *OffsetTable { return e.offsets }

func (e *Engine) press(ctx context.Context, control string, settle time.Duration) error {
	if err := e.link.Press(ctx, control); err != nil {
		return err
	}
	return e.clock.Sleep(ctx, settle)
}

// ResetAndGround moves far past the top of the list and collapses every
// folder, after which position 0 is the first root row.
func (e *Engine) ResetAndGround(ctx context.Context) error {
	e.state.Grounded = false
	for i := 0; i < e.cfg.GroundMoves; i++ {
		if err := e.press(ctx, device.BrowseUp, e.cfg.GroundDelay); err != nil {
			return fmt.Errorf("ground: move up: %w", err)
		}
	}
	for i := 0; i < e.cfg.CollapsePasses; i++ {
		if err := e.press(ctx, device.BrowseCollapse, e.cfg.FolderDelay); err != nil {
			return fmt.Errorf("ground: collapse: %w", err)
		}
	}
	e.state = model.NavigationState{Grounded: true}
	e.groundings++
	logger.Debug("browser grounded", logger.Int("groundings", e.groundings))
	return nil
}

func (e *Engine) settleFor(from, to int) time.Duration {
	_, fromFolder := e.folders[from]
	_, toFolder := e.folders[to]
	if fromFolder || toFolder {
		return e.cfg.FolderDelay
	}
	return e.cfg.MoveDelay
}

// walk moves the cursor from the current estimate to target.
func (e *Engine) walk(ctx context.Context, target int, res *model.NavigationResult) error {
	delta := target - e.state.CurrentOffset
	control, step := device.BrowseDown, 1
	res.Direction = model.DirectionDown
	if delta < 0 {
		control, step, delta = device.BrowseUp, -1, -delta
		res.Direction = model.DirectionUp
	}
	if delta == 0 {
		res.Direction = model.DirectionNone
	}
	for i := 0; i < delta; i++ {
		from := e.state.CurrentOffset
		to := from + step
		if err := e.link.Press(ctx, control); err != nil {
			return err
		}
		e.state.CurrentOffset = to
		res.Moves++
		if err := e.clock.Sleep(ctx, e.settleFor(from, to)); err != nil {
			return err
		}
	}
	e.state.LastTarget = target
	return nil
}

func (e *Engine) verify(ctx context.Context, target int) (bool, error) {
	if e.probe == nil {
		return true, nil
	}
	return e.probe.Verify(ctx, target)
}

// NavigateTo moves the cursor to root row target of the collapsed list,
// grounding first when needed. A failed verification invalidates the offset
// table, re-grounds once and retries; a second failure is drift.
func (e *Engine) NavigateTo(ctx context.Context, target int) (res model.NavigationResult, err error) {
	res.Target = target
	if target < 0 {
		return res, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}
	start := e.clock.Now()
	defer func() { res.Elapsed = e.clock.Now().Sub(start) }()

	if !e.state.Grounded {
		if err := e.ResetAndGround(ctx); err != nil {
			return res, err
		}
		res.Regrounded = true
	}

	for attempt := 1; ; attempt++ {
		if err := e.walk(ctx, target, &res); err != nil {
			return res, fmt.Errorf("navigate to %d: %w", target, err)
		}
		ok, verr := e.verify(ctx, target)
		if verr != nil {
			return res, fmt.Errorf("verify position %d: %w", target, verr)
		}
		if ok {
			return res, nil
		}
		if attempt >= 2 {
			e.state.Grounded = false
			return res, &DriftError{Target: target, Attempts: attempt}
		}

		logger.Warn("navigation drift detected, re-grounding",
			logger.Int("target", target),
			logger.Int("estimate", e.state.CurrentOffset))
		if e.offsets != nil {
			e.offsets.Invalidate(ctx)
		}
		if err := e.ResetAndGround(ctx); err != nil {
			return res, err
		}
		res.Regrounded = true
	}
}

// EnterFolder expands the folder under the cursor and steps onto its first
// child. Expanding leaves the cursor on the folder row, hence the extra
// move. The list is no longer collapsed, so the engine is ungrounded after.
func (e *Engine) EnterFolder(ctx context.Context) error {
	if err := e.press(ctx, device.BrowseExpand, e.cfg.ExpandDelay); err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	if err := e.press(ctx, device.BrowseDown, e.cfg.FolderDelay); err != nil {
		return fmt.Errorf("step into folder: %w", err)
	}
	e.state.Grounded = false
	e.state.Depth++
	e.state.CurrentOffset = 0
	return nil
}

// MoveBy issues delta relative moves from the current row.
func (e *Engine) MoveBy(ctx context.Context, delta int) error {
	control, n := device.BrowseDown, delta
	if delta < 0 {
		control, n = device.BrowseUp, -delta
	}
	for i := 0; i < n; i++ {
		if err := e.press(ctx, control, e.cfg.MoveDelay); err != nil {
			return fmt.Errorf("move: %w", err)
		}
	}
	e.state.CurrentOffset += delta
	return nil
}

// Locate puts the cursor on a track row. A location learned in the offset
// table under key wins over loc while it was learned for loc; an entry
// learned for another location is dropped.
func (e *Engine) Locate(ctx context.Context, key string, loc model.BrowserLocation) (model.NavigationResult, error) {
	source := loc
	if e.offsets != nil && key != "" {
		if learned, ok := e.offsets.Lookup(ctx, key, source); ok {
			loc = learned
		}
	}
	if loc.Index < 0 {
		return model.NavigationResult{Target: loc.Index}, fmt.Errorf("%w: %s", ErrInvalidTarget, loc)
	}

	var total model.NavigationResult
	for attempt := 1; ; attempt++ {
		res, err := e.place(ctx, loc)
		total.Target = res.Target
		total.Moves += res.Moves
		total.Direction = res.Direction
		total.Regrounded = total.Regrounded || res.Regrounded
		total.Elapsed += res.Elapsed
		if err != nil {
			return total, err
		}
		ok, err := e.verifyLocation(ctx, loc)
		if err != nil {
			return total, fmt.Errorf("verify row %s: %w", loc, err)
		}
		if ok {
			e.remember(ctx, key, model.OffsetEntry{Location: loc, Source: source})
			return total, nil
		}
		if attempt >= 2 {
			return total, &DriftError{Target: *loc.Folder, Attempts: attempt, Row: loc.String()}
		}

		logger.Warn("folder row not confirmed, re-grounding", logger.String("row", loc.String()))
		if e.offsets != nil {
			e.offsets.Invalidate(ctx)
		}
		loc = source
		e.state.Grounded = false
	}
}

// place walks to a root row, or to a folder row, into the folder and down to
// the child row.
func (e *Engine) place(ctx context.Context, loc model.BrowserLocation) (model.NavigationResult, error) {
	if loc.Folder == nil {
		return e.NavigateTo(ctx, loc.Index)
	}
	res, err := e.NavigateTo(ctx, *loc.Folder)
	if err != nil {
		return res, err
	}
	if err := e.EnterFolder(ctx); err != nil {
		return res, err
	}
	if err := e.MoveBy(ctx, loc.Index); err != nil {
		return res, err
	}
	res.Moves += loc.Index + 1
	return res, nil
}

// verifyLocation confirms a row inside a folder. Root rows were confirmed by
// NavigateTo.
func (e *Engine) verifyLocation(ctx context.Context, loc model.BrowserLocation) (bool, error) {
	v, ok := e.probe.(LocationVerifier)
	if !ok || loc.Folder == nil {
		return true, nil
	}
	return v.VerifyLocation(ctx, loc)
}

func (e *Engine) remember(ctx context.Context, key string, entry model.OffsetEntry) {
	if e.offsets == nil || key == "" {
		return
	}
	if cached, ok := e.offsets.Get(key); ok && cached.Location.Equal(entry.Location) && cached.Source.Equal(entry.Source) {
		return
	}
	e.offsets.Put(ctx, key, entry)
}
