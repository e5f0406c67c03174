package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// PostgresBackend stores job records in Postgres using pgx/v5. The status
// column doubles as the status index, so list-by-status never drifts from
// the records. Rows are namespaced by instance id.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	instanceID string
}

// NewPostgresBackend creates a PostgresBackend. The caller owns the pool.
func NewPostgresBackend(pool *pgxpool.Pool, instanceID string) *PostgresBackend {
	return &PostgresBackend{pool: pool, instanceID: instanceID}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// Ping checks database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Insert(ctx context.Context, rec *models.JobRecord, input *models.JobInput) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	inJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}

	_, err = b.pool.Exec(ctx,
		`INSERT INTO render_jobs (instance_id, id, status, record, input, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.instanceID, rec.ID, string(rec.Status), recJSON, inJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT record FROM render_jobs WHERE instance_id = $1 AND id = $2`, b.instanceID, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var rec models.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &rec, nil
}

func (b *PostgresBackend) GetInput(ctx context.Context, id string) (*models.JobInput, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT input FROM render_jobs WHERE instance_id = $1 AND id = $2`, b.instanceID, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job input: %w", err)
	}
	var in models.JobInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	return &in, nil
}

// Mutate runs the read-modify-write under a row lock.
func (b *PostgresBackend) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.JobRecord, error) {
	var out *models.JobRecord
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT record FROM render_jobs WHERE instance_id = $1 AND id = $2 FOR UPDATE`, b.instanceID, id,
		).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		var rec models.JobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode job: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		recJSON, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE render_jobs SET status = $3, record = $4, updated_at = $5
			 WHERE instance_id = $1 AND id = $2`,
			b.instanceID, id, string(rec.Status), recJSON, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *PostgresBackend) MutateInput(ctx context.Context, id string, fn func(in *models.JobInput) error) (*models.JobInput, error) {
	var out *models.JobInput
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT input FROM render_jobs WHERE instance_id = $1 AND id = $2 FOR UPDATE`, b.instanceID, id,
		).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job input: %w", err)
		}

		var in models.JobInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("decode job input: %w", err)
		}
		if err := fn(&in); err != nil {
			return err
		}
		inJSON, err := json.Marshal(&in)
		if err != nil {
			return fmt.Errorf("marshal job input: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE render_jobs SET input = $3 WHERE instance_id = $1 AND id = $2`,
			b.instanceID, id, inJSON); err != nil {
			return fmt.Errorf("update job input: %w", err)
		}
		out = &in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *PostgresBackend) ListIDsByStatus(ctx context.Context, status models.JobStatus) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id FROM render_jobs WHERE instance_id = $1 AND status = $2 ORDER BY created_at`,
		b.instanceID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Unindex is a no-op: the index is the status column itself.
func (b *PostgresBackend) Unindex(_ context.Context, _ models.JobStatus, _ string) error {
	return nil
}

var _ Backend = (*PostgresBackend)(nil)
