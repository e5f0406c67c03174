package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/renderq/internal/config"
)

const pingTimeout = 10 * time.Second

// Connect opens the job-record pool for one renderq instance. Sessions
// carry application_name "renderq:<instance>" so each instance's
// connections can be told apart in pg_stat_activity.
func Connect(ctx context.Context, cfg config.DatabaseConfig, instanceID string) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg, instanceID)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to job record database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping job record database: %w", err)
	}
	return pool, nil
}

func poolConfig(cfg config.DatabaseConfig, instanceID string) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "renderq:" + instanceID
	return poolCfg, nil
}
