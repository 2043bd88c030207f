package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"DeckPilot/model"

	"github.com/go-redis/redis/v8"
)

const (
	offsetTableKey = "deckpilot:%s:offsets" // Hash: target key -> OffsetEntry JSON
)

// OffsetCache persists the navigation offset table in a Redis hash, one hash
// per library so two libraries never share positions.
type OffsetCache struct {
	client  *redis.Client
	library string
}

// NewOffsetCache creates the offset table cache of one library.
func NewOffsetCache(client *redis.Client, library string) *OffsetCache {
	if library == "" {
		library = "default"
	}
	return &OffsetCache{client: client, library: library}
}

func (c *OffsetCache) key() string {
	return fmt.Sprintf(offsetTableKey, c.library)
}

// LoadOffsets returns every stored entry. Undecodable fields are skipped.
func (c *OffsetCache) LoadOffsets(ctx context.Context) (map[string]model.OffsetEntry, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	result, err := c.client.HGetAll(ctx, c.key()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.OffsetEntry, len(result))
	for field, data := range result {
		var entry model.OffsetEntry
		if err := json.Unmarshal([]byte(data), &entry); err == nil {
			out[field] = entry
		}
	}
	return out, nil
}

// SaveOffset stores one entry.
func (c *OffsetCache) SaveOffset(ctx context.Context, key string, entry model.OffsetEntry) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal offset: %w", err)
	}
	return c.client.HSet(ctx, c.key(), key, data).Err()
}

// DeleteOffset drops one entry.
func (c *OffsetCache) DeleteOffset(ctx context.Context, key string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.HDel(ctx, c.key(), key).Err()
}

// ClearOffsets drops the whole table.
func (c *OffsetCache) ClearOffsets(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, c.key()).Err()
}

// Len counts stored entries.
func (c *OffsetCache) Len(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}
	return c.client.HLen(ctx, c.key()).Result()
}
