package device

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"DeckPilot/model"

	"gopkg.in/yaml.v3"
)

// Semantics says how the controlled application interprets a value.
type Semantics string

const (
	// Direct: the value encodes the target state (127 on, 0 off). Idempotent.
	Direct Semantics = "direct"
	// Toggle: every message flips the state. The performer cannot track it
	// blind, so toggle controls are rejected by SelfCheck.
	Toggle Semantics = "toggle"
)

// Browser and mixer control names.
const (
	BrowseUp       = "browser.up"
	BrowseDown     = "browser.down"
	BrowseExpand   = "browser.expand"
	BrowseCollapse = "browser.collapse"
	Crossfader     = "mixer.crossfader"
)

// Deck control suffixes, combined with a deck via DeckControl.
const (
	DeckLoad   = "load"
	DeckPlay   = "play"
	DeckVolume = "volume"
	DeckEQLow  = "eq_low"
	DeckEQMid  = "eq_mid"
	DeckEQHigh = "eq_high"
	DeckSync   = "sync"
	DeckMaster = "master"
)

var deckSuffixes = []string{DeckLoad, DeckPlay, DeckVolume, DeckEQLow, DeckEQMid, DeckEQHigh, DeckSync, DeckMaster}

// DeckControl returns the control name of suffix on deck, e.g. "deck_a.volume".
func DeckControl(deck model.DeckID, suffix string) string {
	return "deck_" + strings.ToLower(string(deck)) + "." + suffix
}

var (
	ErrUnknownControl = errors.New("device: unknown control")
	ErrToggleControl  = errors.New("device: control uses toggle semantics")
	ErrValueRange     = errors.New("device: value outside 0-127")
)

// Control is one addressable MIDI control-change.
type Control struct {
	Channel   uint8     `yaml:"channel" json:"channel"`
	CC        uint8     `yaml:"cc" json:"cc"`
	Semantics Semantics `yaml:"semantics" json:"semantics"`
}

// ControlMap maps control names to MIDI addresses.
type ControlMap map[string]Control

// DefaultControlMap is the mapping shipped with the companion controller
// preset: browser on CC 20-23, crossfader on CC 8, each deck on its own
// channel starting at CC 30.
func DefaultControlMap() ControlMap {
	m := ControlMap{
		BrowseUp:       {Channel: 0, CC: 20, Semantics: Direct},
		BrowseDown:     {Channel: 0, CC: 21, Semantics: Direct},
		BrowseExpand:   {Channel: 0, CC: 22, Semantics: Direct},
		BrowseCollapse: {Channel: 0, CC: 23, Semantics: Direct},
		Crossfader:     {Channel: 0, CC: 8, Semantics: Direct},
	}
	for i, deck := range []model.DeckID{model.DeckA, model.DeckB} {
		for j, suffix := range deckSuffixes {
			m[DeckControl(deck, suffix)] = Control{
				Channel:   uint8(i + 1),
				CC:        uint8(30 + j),
				Semantics: Direct,
			}
		}
	}
	return m
}

// RequiredControls lists every control the performer drives for decks.
func RequiredControls(decks ...model.DeckID) []string {
	names := []string{BrowseUp, BrowseDown, BrowseExpand, BrowseCollapse, Crossfader}
	for _, deck := range decks {
		for _, suffix := range deckSuffixes {
			names = append(names, DeckControl(deck, suffix))
		}
	}
	return names
}

type mappingFile struct {
	Controls map[string]Control `yaml:"controls"`
}

// ParseControlMap decodes a YAML mapping. Entries override the defaults;
// a missing semantics field means direct.
func ParseControlMap(data []byte) (ControlMap, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse control map: %w", err)
	}
	m := DefaultControlMap()
	for name, c := range f.Controls {
		if c.Semantics == "" {
			c.Semantics = Direct
		}
		if c.Semantics != Direct && c.Semantics != Toggle {
			return nil, fmt.Errorf("control %s: unknown semantics %q", name, c.Semantics)
		}
		if c.Channel > 15 || c.CC > 127 {
			return nil, fmt.Errorf("control %s: channel %d cc %d out of range", name, c.Channel, c.CC)
		}
		m[name] = c
	}
	return m, nil
}

// LoadControlMap reads a YAML mapping file; an empty path gives the defaults.
func LoadControlMap(path string) (ControlMap, error) {
	if path == "" {
		return DefaultControlMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read control map: %w", err)
	}
	return ParseControlMap(data)
}

// SelfCheck verifies every required control exists, uses Direct semantics
// and that no two controls share a MIDI address.
func (m ControlMap) SelfCheck(required []string) error {
	var errs []error
	for _, name := range required {
		c, ok := m[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownControl, name))
			continue
		}
		if c.Semantics == Toggle {
			errs = append(errs, fmt.Errorf("%w: %s", ErrToggleControl, name))
		}
	}

	seen := make(map[[2]uint8]string, len(m))
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := m[name]
		addr := [2]uint8{c.Channel, c.CC}
		if other, dup := seen[addr]; dup {
			errs = append(errs, fmt.Errorf("controls %s and %s share channel %d cc %d", other, name, c.Channel, c.CC))
			continue
		}
		seen[addr] = name
	}
	return errors.Join(errs...)
}
