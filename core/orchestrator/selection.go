package orchestrator

import (
	"context"
	"errors"
	"math"
	"sort"

	"DeckPilot/core/matcher"
	"DeckPilot/logger"
	"DeckPilot/model"
)

// ErrNoTracks means the library has nothing left to load.
var ErrNoTracks = errors.New("no playable track in library")

// Reason tells how a track was chosen.
type Reason string

const (
	ReasonOpening    Reason = "opening"
	ReasonCompatible Reason = "compatible"
	ReasonRelaxed    Reason = "relaxed"
	ReasonFallback   Reason = "fallback"
)

// Selection is the next track and why it won.
type Selection struct {
	Track    model.Track
	Reason   Reason
	Distance int // harmonic distance; -1 for opening and fallback picks
}

// Finder is the matcher surface used for selection. *matcher.Matcher
// implements it.
type Finder interface {
	FindCompatible(ctx context.Context, refTempo float64, refKey string, tolerancePct float64) ([]matcher.Match, error)
	Reference(t *model.Track) (float64, string)
	All(ctx context.Context) ([]model.Track, error)
}

// Selector picks tracks. It never stalls a session: when nothing is
// compatible it relaxes the tempo tolerance once, then takes any track.
type Selector struct {
	finder       Finder
	tolerancePct float64
	relaxFactor  float64
}

// NewSelector creates a selector.
func NewSelector(finder Finder, tolerancePct, relaxFactor float64) *Selector {
	if tolerancePct <= 0 {
		tolerancePct = matcher.DefaultTolerancePct
	}
	if relaxFactor <= 1 {
		relaxFactor = 2
	}
	return &Selector{finder: finder, tolerancePct: tolerancePct, relaxFactor: relaxFactor}
}

// Next picks the track to follow ref. Tracks in exclude are skipped except
// as a last resort; onAir tracks are never returned.
func (s *Selector) Next(ctx context.Context, ref *model.Track, exclude, onAir map[int64]bool, band *model.EnergyBand) (Selection, error) {
	tempo, key := s.finder.Reference(ref)

	for _, pass := range []struct {
		tol    float64
		reason Reason
	}{
		{s.tolerancePct, ReasonCompatible},
		{s.tolerancePct * s.relaxFactor, ReasonRelaxed},
	} {
		matches, err := s.finder.FindCompatible(ctx, tempo, key, pass.tol)
		if err != nil {
			return Selection{}, err
		}
		var usable []matcher.Match
		for _, m := range matches {
			if !exclude[m.Track.ID] && !onAir[m.Track.ID] {
				usable = append(usable, m)
			}
		}
		if len(usable) == 0 {
			logger.Debug("no candidate", logger.String("pass", string(pass.reason)), logger.Float64("tolerance", pass.tol))
			continue
		}
		if band != nil {
			// Within one harmonic distance, tracks in the energy band go first.
			sort.SliceStable(usable, func(i, j int) bool {
				if usable[i].Distance != usable[j].Distance {
					return usable[i].Distance < usable[j].Distance
				}
				return band.Contains(usable[i].Track.Tempo) && !band.Contains(usable[j].Track.Tempo)
			})
		}
		best := usable[0]
		return Selection{Track: best.Track, Reason: pass.reason, Distance: best.Distance}, nil
	}

	all, err := s.finder.All(ctx)
	if err != nil {
		return Selection{}, err
	}
	var untried, others []model.Track
	for _, t := range all {
		if onAir[t.ID] {
			continue
		}
		others = append(others, t)
		if !exclude[t.ID] {
			untried = append(untried, t)
		}
	}
	pool := untried
	if len(pool) == 0 {
		pool = others
	}
	if len(pool) == 0 {
		return Selection{}, ErrNoTracks
	}
	t := closestTempo(pool, tempo, band)
	logger.Warn("no compatible track, falling back",
		logger.Track(t.ID, t.Title),
		logger.Float64("refTempo", tempo),
		logger.String("refKey", key))
	return Selection{Track: t, Reason: ReasonFallback, Distance: -1}, nil
}

// Opening picks the first track of a session: inside the first energy band
// when one is planned, otherwise closest to the default tempo.
func (s *Selector) Opening(ctx context.Context, band *model.EnergyBand) (Selection, error) {
	all, err := s.finder.All(ctx)
	if err != nil {
		return Selection{}, err
	}
	if len(all) == 0 {
		return Selection{}, ErrNoTracks
	}
	target, _ := s.finder.Reference(nil)
	if band != nil {
		target = (band.MinTempo + band.MaxTempo) / 2
	}
	return Selection{Track: closestTempo(all, target, band), Reason: ReasonOpening, Distance: -1}, nil
}

// closestTempo prefers tracks in band, then known tempos nearest to target,
// then the lowest id.
func closestTempo(pool []model.Track, target float64, band *model.EnergyBand) model.Track {
	rank := func(t model.Track) (int, float64) {
		inBand := 1
		if band != nil && band.Contains(t.Tempo) {
			inBand = 0
		}
		if t.Tempo <= 0 {
			return inBand, math.Inf(1)
		}
		return inBand, math.Abs(t.Tempo - target)
	}
	best := pool[0]
	bb, bd := rank(best)
	for _, t := range pool[1:] {
		b, d := rank(t)
		if b < bb || (b == bb && d < bd) || (b == bb && d == bd && t.ID < best.ID) {
			best, bb, bd = t, b, d
		}
	}
	return best
}
