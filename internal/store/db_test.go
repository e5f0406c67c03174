package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/renderq/internal/config"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(config.DatabaseConfig{
		URL:             "postgres://renderq:secret@db:5432/renderq",
		MaxOpenConns:    10,
		MaxIdleConns:    20,
		ConnMaxLifetime: 5 * time.Minute,
	}, "eu-1")
	require.NoError(t, err)

	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, int32(10), cfg.MinConns, "idle floor never exceeds the pool size")
	assert.Equal(t, 5*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, "renderq:eu-1", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_BadURL(t *testing.T) {
	_, err := poolConfig(config.DatabaseConfig{URL: "postgres://%zz"}, "eu-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
