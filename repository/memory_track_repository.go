package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"DeckPilot/model"
)

// MemoryTrackRepository keeps the library in memory, for dry runs and tests.
type MemoryTrackRepository struct {
	mu     sync.RWMutex
	tracks map[int64]model.Track
	nextID int64
}

// NewMemoryTrackRepository seeds the store. Tracks without an ID get one.
func NewMemoryTrackRepository(seed []model.Track) *MemoryTrackRepository {
	r := &MemoryTrackRepository{tracks: make(map[int64]model.Track)}
	for _, t := range seed {
		if t.ID == 0 {
			r.nextID++
			t.ID = r.nextID
		} else if t.ID > r.nextID {
			r.nextID = t.ID
		}
		r.tracks[t.ID] = t
	}
	return r
}

func (r *MemoryTrackRepository) GetTrack(_ context.Context, id int64) (*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTrackNotFound, id)
	}
	return &t, nil
}

func (r *MemoryTrackRepository) ListTracks(_ context.Context) ([]model.Track, error) {
	return r.filter(func(model.Track) bool { return true }), nil
}

func (r *MemoryTrackRepository) FindByTempoRange(_ context.Context, min, max float64) ([]model.Track, error) {
	return r.filter(func(t model.Track) bool { return t.Tempo >= min && t.Tempo <= max }), nil
}

func (r *MemoryTrackRepository) filter(keep func(model.Track) bool) []model.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Track
	for _, t := range r.tracks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryTrackRepository) UpsertTracks(_ context.Context, tracks []model.Track) (created, updated int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPath := make(map[string]int64, len(r.tracks))
	for id, t := range r.tracks {
		if t.Path != "" {
			byPath[t.Path] = id
		}
	}
	now := time.Now()
	for _, t := range tracks {
		if id, ok := byPath[t.Path]; ok && t.Path != "" {
			t.ID = id
			t.CreatedAt = r.tracks[id].CreatedAt
			t.UpdatedAt = now
			r.tracks[id] = t
			updated++
			continue
		}
		r.nextID++
		t.ID = r.nextID
		t.CreatedAt, t.UpdatedAt = now, now
		r.tracks[t.ID] = t
		if t.Path != "" {
			byPath[t.Path] = t.ID
		}
		created++
	}
	return created, updated, nil
}

func (r *MemoryTrackRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.tracks)), nil
}
