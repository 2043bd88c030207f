package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"DeckPilot/core/device"
	"DeckPilot/core/device/devicetest"
	"DeckPilot/core/matcher"
	"DeckPilot/core/navigation"
	"DeckPilot/core/safety"
	"DeckPilot/core/timing"
	"DeckPilot/model"
	"DeckPilot/repository"
)

var testNav = navigation.Config{
	GroundMoves:    30,
	CollapsePasses: 2,
	GroundDelay:    10 * time.Millisecond,
	MoveDelay:      300 * time.Millisecond,
	FolderDelay:    800 * time.Millisecond,
	ExpandDelay:    800 * time.Millisecond,
}

var testMix = Config{
	PreloadBars:        32,
	MixBars:            16,
	CrossfadeSteps:     16,
	CrossfadeStepDelay: 500 * time.Millisecond,
	PlayVolume:         100,
	PreCue:             true,
	PollInterval:       time.Second,
	DefaultTempo:       124,
}

// library builds n tracks on consecutive root rows.
func library(n int) []model.Track {
	keys := []string{"8A", "9A", "8B", "9B", "10A", "8A"}
	tracks := make([]model.Track, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, model.Track{
			ID:                int64(i + 1),
			Title:             fmt.Sprintf("Track %02d", i+1),
			Tempo:             122 + float64(i%5),
			Key:               keys[i%len(keys)],
			HierarchyPosition: i,
			DurationSec:       180,
		})
	}
	return tracks
}

// rootLibrary is library(8) on a flat browser.
func rootLibrary() ([]model.Track, *devicetest.Browser, []model.BrowserNode) {
	return library(8), devicetest.NewBrowser(8, nil), nil
}

// folderLibrary spreads library(8) over two folders: five tracks in the
// folder on root row 1, three in the folder on root row 3.
func folderLibrary() ([]model.Track, *devicetest.Browser, []model.BrowserNode) {
	tracks := library(8)
	for i := range tracks {
		folder, index := 1, i
		if i >= 5 {
			folder, index = 3, i-5
		}
		tracks[i].FolderPosition = &folder
		tracks[i].HierarchyPosition = index
	}
	layout := []model.BrowserNode{
		{Name: "Warmup", RelativeOffset: 1, ChildCount: 5},
		{Name: "Peak", RelativeOffset: 3, ChildCount: 3},
	}
	return tracks, devicetest.NewBrowser(5, map[int]int{1: 5, 3: 3}), layout
}

// rowOf is the browser row a track is loaded from.
func rowOf(t model.Track) devicetest.Row {
	if t.FolderPosition == nil {
		return devicetest.Row{Root: t.HierarchyPosition, Child: -1}
	}
	return devicetest.Row{Root: *t.FolderPosition, Child: t.HierarchyPosition}
}

type recordingSink struct {
	mu      sync.Mutex
	reports []model.SessionReport
}

func (s *recordingSink) SaveReport(_ context.Context, r model.SessionReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return "mem://" + r.SessionID, nil
}

func (s *recordingSink) all() []model.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SessionReport(nil), s.reports...)
}

type rig struct {
	browser *devicetest.Browser
	mixer   *devicetest.Mixer
	link    *device.Link
	clock   *timing.ManualClock
	nav     *navigation.Engine
	gate    *safety.Gate
	store   *repository.MemoryTrackRepository
	sink    *recordingSink
	deps    Deps
}

func newRig(t *testing.T, tracks []model.Track, browser *devicetest.Browser) *rig {
	t.Helper()
	if browser == nil {
		browser = devicetest.NewBrowser(len(tracks), nil)
	}
	controls := device.DefaultControlMap()
	mixer := devicetest.NewMixer(controls, browser)
	link := device.NewLink(mixer, controls)
	t.Cleanup(func() { link.Close() })

	clock := timing.NewManualClock(time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC))
	nav := navigation.New(link, clock, testNav, navigation.WithProbe(browser), navigation.WithOffsets(navigation.NewOffsetTable(nil)))
	gate := safety.New(link)
	store := repository.NewMemoryTrackRepository(tracks)
	m := matcher.New(store, matcher.Defaults{Tempo: 124, Key: "8A"})
	sink := &recordingSink{}

	return &rig{
		browser: browser,
		mixer:   mixer,
		link:    link,
		clock:   clock,
		nav:     nav,
		gate:    gate,
		store:   store,
		sink:    sink,
		deps: Deps{
			Navigator: nav,
			Link:      link,
			Gate:      gate,
			Selector:  NewSelector(m, 6, 2),
			Clock:     clock,
			Reports:   sink,
		},
	}
}

func (r *rig) orchestrator(cfg Config) *Orchestrator {
	return New("test-session", cfg, r.deps)
}

// onAir puts track a on deck A at full volume as master, and track b on
// deck B silently pre-cued.
func (r *rig) onAir(t *testing.T, a, b model.Track) {
	t.Helper()
	ctx := context.Background()
	now := r.clock.Now()
	r.gate.Update(model.DeckA, func(d *model.DeckState) {
		d.LoadedTrack, d.Playing, d.Volume, d.StartedAt = &a, true, 100, now
	})
	r.gate.Update(model.DeckB, func(d *model.DeckState) {
		d.LoadedTrack, d.Playing, d.Volume, d.StartedAt = &b, true, 0, now
	})
	if err := r.gate.AssignMaster(ctx, model.DeckA); err != nil {
		t.Fatal(err)
	}
	r.mixer.Reset()
}

// watchMasters fails the test whenever both master controls are on.
func (r *rig) watchMasters(t *testing.T) {
	r.mixer.OnEvent = func(ev devicetest.Event) {
		a, _ := r.mixer.Value("deck_a.master")
		b, _ := r.mixer.Value("deck_b.master")
		if a > 0 && b > 0 {
			t.Errorf("both decks are master after %s=%d", ev.Name, ev.Value)
		}
	}
}
