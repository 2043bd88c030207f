package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DeckPilot/logger"
	"DeckPilot/model"

	"github.com/go-redis/redis/v8"
)

const (
	sessionLatestKey = "deckpilot:session:latest" // String: last SessionSnapshot JSON
	sessionKey       = "deckpilot:session:%s"     // String: SessionSnapshot JSON per session
	sessionTTL       = 24 * time.Hour
)

// SessionCache keeps the latest status snapshot so other processes (and a
// restarted server) can show what the performer was doing.
type SessionCache struct {
	client *redis.Client
}

// NewSessionCache creates the session snapshot cache.
func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client}
}

// Save stores snap as the latest snapshot and under its session id.
func (c *SessionCache) Save(ctx context.Context, snap model.SessionSnapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionLatestKey, data, sessionTTL)
	if snap.Session.ID != "" {
		pipe.Set(ctx, fmt.Sprintf(sessionKey, snap.Session.ID), data, sessionTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Latest returns the most recent snapshot, or nil when there is none.
func (c *SessionCache) Latest(ctx context.Context) (*model.SessionSnapshot, error) {
	return c.get(ctx, sessionLatestKey)
}

// Get returns the last snapshot of one session, or nil.
func (c *SessionCache) Get(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	return c.get(ctx, fmt.Sprintf(sessionKey, sessionID))
}

func (c *SessionCache) get(ctx context.Context, key string) (*model.SessionSnapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var snap model.SessionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Publish stores snap, logging failures. It lets the cache observe a
// session without the session depending on Redis.
func (c *SessionCache) Publish(snap model.SessionSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Save(ctx, snap); err != nil {
		logger.Warn("cache session snapshot failed", logger.ErrorField(err))
	}
}
