package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/internal/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_InvalidURL(t *testing.T) {
	_, err := kv.Connect(context.Background(), "not-a-redis-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse shared store URL")
}

func TestConnect_Ping(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := kvtest.StartRedis(t)
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestRedisCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := kvtest.StartRedis(t)
	c := kv.NewRedisCounter(client)
	ctx := context.Background()
	key := kv.NewKeyspace("counter").RateLimit("adm_test")

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
