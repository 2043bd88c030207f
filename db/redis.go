package db

import (
	"context"
	"fmt"
	"net"
	"time"

	"DeckPilot/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the process-wide Redis client.
var RedisClient *redis.Client

// ConnectRedis opens the Redis connection.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// ping
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	RedisClient = client
	return client, nil
}

// CloseRedis closes the Redis connection.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// CheckRedis round-trips a probe key.
func CheckRedis(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	const key = "deckpilot:probe"
	if err := client.Set(ctx, key, "ok", time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}
