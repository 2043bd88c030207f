package navigation

import (
	"context"
	"sync"

	"DeckPilot/logger"
	"DeckPilot/model"
)

// OffsetStore persists the offset table between runs.
type OffsetStore interface {
	LoadOffsets(ctx context.Context) (map[string]model.OffsetEntry, error)
	SaveOffset(ctx context.Context, key string, entry model.OffsetEntry) error
	DeleteOffset(ctx context.Context, key string) error
	ClearOffsets(ctx context.Context) error
}

// OffsetTable caches known browser locations per target key. It is a cache,
// never a source of truth: any detected drift throws the whole table away,
// and an entry whose source no longer matches the metadata is dropped.
type OffsetTable struct {
	mu         sync.RWMutex
	entries    map[string]model.OffsetEntry
	store      OffsetStore
	generation int
}

// NewOffsetTable creates a table; store may be nil.
func NewOffsetTable(store OffsetStore) *OffsetTable {
	return &OffsetTable{entries: make(map[string]model.OffsetEntry), store: store}
}

// Warm loads the persisted entries.
func (t *OffsetTable) Warm(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	entries, err := t.store.LoadOffsets(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	for k, v := range entries {
		t.entries[k] = v
	}
	t.mu.Unlock()
	return nil
}

// Seed adds pre-trained entries without persisting them.
func (t *OffsetTable) Seed(entries map[string]model.OffsetEntry) {
	t.mu.Lock()
	for k, v := range entries {
		t.entries[k] = v
	}
	t.mu.Unlock()
}

func (t *OffsetTable) Get(key string) (model.OffsetEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[key]
	return entry, ok
}

// Lookup returns the learned row for key when it was learned for source.
// A stale entry is dropped.
func (t *OffsetTable) Lookup(ctx context.Context, key string, source model.BrowserLocation) (model.BrowserLocation, bool) {
	entry, ok := t.Get(key)
	if !ok {
		return model.BrowserLocation{}, false
	}
	if entry.Source.Equal(source) {
		return entry.Location, true
	}
	logger.Info("stale offset dropped",
		logger.String("key", key),
		logger.String("learnedFor", entry.Source.String()),
		logger.String("metadata", source.String()))
	t.Drop(ctx, key)
	return model.BrowserLocation{}, false
}

// Put records a verified location. Store failures only cost the cache.
func (t *OffsetTable) Put(ctx context.Context, key string, entry model.OffsetEntry) {
	t.mu.Lock()
	t.entries[key] = entry
	t.mu.Unlock()
	if t.store == nil {
		return
	}
	if err := t.store.SaveOffset(ctx, key, entry); err != nil {
		logger.Warn("persist offset failed", logger.String("key", key), logger.ErrorField(err))
	}
}

// Drop removes one entry, in memory and in the store.
func (t *OffsetTable) Drop(ctx context.Context, key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	if t.store == nil {
		return
	}
	if err := t.store.DeleteOffset(ctx, key); err != nil {
		logger.Warn("delete offset failed", logger.String("key", key), logger.ErrorField(err))
	}
}

// Invalidate drops every entry, in memory and in the store.
func (t *OffsetTable) Invalidate(ctx context.Context) {
	t.mu.Lock()
	n := len(t.entries)
	t.entries = make(map[string]model.OffsetEntry)
	t.generation++
	t.mu.Unlock()
	logger.Info("offset table invalidated", logger.Int("dropped", n))
	if t.store == nil {
		return
	}
	if err := t.store.ClearOffsets(ctx); err != nil {
		logger.Warn("clear persisted offsets failed", logger.ErrorField(err))
	}
}

func (t *OffsetTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Generation counts invalidations.
func (t *OffsetTable) Generation() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}
