// Package devicetest simulates the mixing application behind a device link:
// a mixer that decodes MIDI control changes and a browser that reacts to the
// blind navigation commands.
package devicetest

import (
	"errors"
	"fmt"
	"sync"

	"DeckPilot/core/device"
	"DeckPilot/model"

	"gitlab.com/gomidi/midi/v2"
)

// Event is one decoded control change.
type Event struct {
	Name  string
	Value uint8
}

// ErrInjected is returned by Send once FailAfter messages went through.
var ErrInjected = errors.New("devicetest: injected send failure")

// Mixer implements device.Output.
type Mixer struct {
	mu      sync.Mutex
	names   map[[2]uint8]string
	events  []Event
	values  map[string]uint8
	browser *Browser
	loaded  map[model.DeckID]Row

	// FailAfter makes every send after the first n fail; 0 disables.
	FailAfter int
	// OnEvent runs after each decoded event, outside the lock.
	OnEvent func(Event)
}

// NewMixer decodes messages addressed by controls. browser may be nil.
func NewMixer(controls device.ControlMap, browser *Browser) *Mixer {
	names := make(map[[2]uint8]string, len(controls))
	for name, c := range controls {
		names[[2]uint8{c.Channel, c.CC}] = name
	}
	return &Mixer{
		names:   names,
		values:  make(map[string]uint8),
		browser: browser,
		loaded:  make(map[model.DeckID]Row),
	}
}

func (m *Mixer) Send(data []byte) error {
	var ch, cc, val uint8
	if !midi.Message(data).GetControlChange(&ch, &cc, &val) {
		return fmt.Errorf("devicetest: not a control change: % X", data)
	}

	m.mu.Lock()
	if m.FailAfter > 0 && len(m.events) >= m.FailAfter {
		m.mu.Unlock()
		return ErrInjected
	}
	name, ok := m.names[[2]uint8{ch, cc}]
	if !ok {
		name = fmt.Sprintf("ch%d/cc%d", ch, cc)
	}
	ev := Event{Name: name, Value: val}
	m.events = append(m.events, ev)
	m.values[name] = val

	if val > 0 && m.browser != nil {
		switch name {
		case device.BrowseUp:
			m.browser.Up()
		case device.BrowseDown:
			m.browser.Down()
		case device.BrowseExpand:
			m.browser.Expand()
		case device.BrowseCollapse:
			m.browser.Collapse()
		}
		for _, deck := range []model.DeckID{model.DeckA, model.DeckB} {
			if name == device.DeckControl(deck, device.DeckLoad) {
				m.loaded[deck] = m.browser.Current()
			}
		}
	}
	hook := m.OnEvent
	m.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

// Events returns a copy of all decoded events.
func (m *Mixer) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Count returns how many messages hit the named control.
func (m *Mixer) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// Values returns every value sent to the named control, in order.
func (m *Mixer) Values(name string) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint8
	for _, ev := range m.events {
		if ev.Name == name {
			out = append(out, ev.Value)
		}
	}
	return out
}

// Value returns the last value of the named control.
func (m *Mixer) Value(name string) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	return v, ok
}

// LoadedRow returns the browser row that was selected when deck was loaded.
func (m *Mixer) LoadedRow(deck model.DeckID) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.loaded[deck]
	return r, ok
}

// Reset forgets the recorded events.
func (m *Mixer) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
