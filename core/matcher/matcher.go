// Package matcher ranks library tracks by how well they mix into a reference
// track: tempo within a tolerance, key on or next to the reference on the
// Camelot wheel.
package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"

	"DeckPilot/logger"
	"DeckPilot/model"
)

// DefaultTolerancePct is the tempo tolerance when the caller passes none.
const DefaultTolerancePct = 6.0

// Store is the read side of the metadata store the matcher needs.
type Store interface {
	FindByTempoRange(ctx context.Context, min, max float64) ([]model.Track, error)
	ListTracks(ctx context.Context) ([]model.Track, error)
}

// Defaults stand in for a reference track without metadata.
type Defaults struct {
	Tempo float64
	Key   string
}

// Match is one ranked candidate.
type Match struct {
	Track      model.Track
	Distance   int     // harmonic distance to the reference key
	TempoDelta float64 // candidate tempo minus reference tempo
}

// Matcher ranks candidates from a Store.
type Matcher struct {
	store    Store
	defaults Defaults
}

// New creates a matcher.
func New(store Store, defaults Defaults) *Matcher {
	return &Matcher{store: store, defaults: defaults}
}

// Reference returns the tempo and key to match against t, substituting the
// configured defaults for missing metadata instead of failing.
func (m *Matcher) Reference(t *model.Track) (float64, string) {
	tempo, key := m.defaults.Tempo, m.defaults.Key
	if t == nil {
		return tempo, key
	}
	if t.Tempo > 0 {
		tempo = t.Tempo
	}
	if _, err := ParseKey(t.Key); err == nil {
		key = t.Key
	}
	return tempo, key
}

// WithinTolerance reports whether candidate is within tolPct percent of ref.
func WithinTolerance(candidate, ref, tolPct float64) bool {
	if ref <= 0 {
		return false
	}
	return math.Abs(candidate-ref)/ref <= tolPct/100
}

// FindCompatible returns tracks within tolerancePct of refTempo whose key is
// at harmonic distance 0 or 1 from refKey, best first. A zero tempo or an
// unparseable key matches nothing; only store failures are errors.
func (m *Matcher) FindCompatible(ctx context.Context, refTempo float64, refKey string, tolerancePct float64) ([]Match, error) {
	if tolerancePct <= 0 {
		tolerancePct = DefaultTolerancePct
	}
	if refTempo <= 0 || math.IsNaN(refTempo) || math.IsInf(refTempo, 0) {
		logger.Debug("matcher: no usable reference tempo", logger.Float64("tempo", refTempo))
		return nil, nil
	}
	ref, err := ParseKey(refKey)
	if err != nil {
		logger.Debug("matcher: no usable reference key", logger.String("key", refKey))
		return nil, nil
	}

	span := refTempo * tolerancePct / 100
	candidates, err := m.store.FindByTempoRange(ctx, refTempo-span, refTempo+span)
	if err != nil {
		return nil, fmt.Errorf("query tempo range: %w", err)
	}

	var matches []Match
	for _, c := range candidates {
		if !WithinTolerance(c.Tempo, refTempo, tolerancePct) {
			continue
		}
		k, err := ParseKey(c.Key)
		if err != nil {
			continue
		}
		d := HarmonicDistance(ref, k)
		if d > 1 {
			continue
		}
		matches = append(matches, Match{Track: c, Distance: d, TempoDelta: c.Tempo - refTempo})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		da, db := math.Abs(a.TempoDelta), math.Abs(b.TempoDelta)
		if da != db {
			return da < db
		}
		return a.Track.ID < b.Track.ID
	})
	return matches, nil
}

// All returns every track of the store, for fallback selection.
func (m *Matcher) All(ctx context.Context) ([]model.Track, error) {
	tracks, err := m.store.ListTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}
