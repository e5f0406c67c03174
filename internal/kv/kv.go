// Package kv owns the shared Redis connection and the key namespace every
// shared-store component writes under.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Connect parses a Redis URL, opens a client and verifies it answers PING.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse shared store URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping shared store: %w", err)
	}
	return client, nil
}
