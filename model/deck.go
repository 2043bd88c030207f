package model

import "time"

// DeckID identifies a playback deck.
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// Other returns the opposite deck of a two-deck setup.
func (d DeckID) Other() DeckID {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// DeckState mirrors what the performer believes a deck is doing. The device
// link has no feedback channel, so this is the only record.
type DeckState struct {
	ID          DeckID    `json:"id"`
	LoadedTrack *Track    `json:"loadedTrack,omitempty"`
	Playing     bool      `json:"playing"`
	Volume      uint8     `json:"volume"`
	IsMaster    bool      `json:"isMaster"`
	SyncEnabled bool      `json:"syncEnabled"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
}

// Elapsed returns playback time since StartedAt, or 0 when stopped.
func (d *DeckState) Elapsed(now time.Time) time.Duration {
	if !d.Playing || d.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(d.StartedAt)
}

// Remaining estimates the playback time left on a playing deck. fallback
// stands in for a track without a known duration.
func (d *DeckState) Remaining(now time.Time, fallback time.Duration) time.Duration {
	if d.LoadedTrack == nil || !d.Playing {
		return 0
	}
	length := d.LoadedTrack.Duration()
	if length <= 0 {
		length = fallback
	}
	if left := length - d.Elapsed(now); left > 0 {
		return left
	}
	return 0
}

// Clone returns a copy safe to hand to other goroutines.
func (d *DeckState) Clone() DeckState {
	c := *d
	if d.LoadedTrack != nil {
		t := *d.LoadedTrack
		c.LoadedTrack = &t
	}
	return c
}
