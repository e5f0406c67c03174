package events_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/internal/kv/kvtest"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

func runLogSuite(t *testing.T, newLog func(t *testing.T) events.Log) {
	t.Run("OrderPreserved", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		for i, typ := range []models.EventType{models.EventAccepted, models.EventQueued, models.EventLeaseAcquired} {
			require.NoError(t, log.Append(ctx, "job-1", models.JobEvent{TimestampMs: int64(i), Type: typ}))
		}

		evs, err := log.Read(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, evs, 3)
		assert.Equal(t, models.EventAccepted, evs[0].Type)
		assert.Equal(t, models.EventLeaseAcquired, evs[2].Type)
	})

	t.Run("Capped", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		for i := 0; i < events.MaxPerJob+25; i++ {
			require.NoError(t, log.Append(ctx, "job-1", models.JobEvent{TimestampMs: int64(i), Type: models.EventRunning}))
		}

		evs, err := log.Read(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, evs, events.MaxPerJob)
		assert.Equal(t, int64(25), evs[0].TimestampMs, "oldest entries dropped")
	})

	t.Run("UnknownJobEmpty", func(t *testing.T) {
		evs, err := newLog(t).Read(context.Background(), "nope")
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("DataRoundTrips", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		require.NoError(t, log.Append(ctx, "job-1", models.JobEvent{
			Type: models.EventRequeued,
			Data: map[string]any{"retry_count": float64(1)},
		}))
		evs, err := log.Read(ctx, "job-1")
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, float64(1), evs[0].Data["retry_count"])
	})
}

func TestMemoryLog(t *testing.T) {
	runLogSuite(t, func(t *testing.T) events.Log { return events.NewMemoryLog() })
}

func TestRedisLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := kvtest.StartRedis(t)
	runLogSuite(t, func(t *testing.T) events.Log {
		return events.NewRedisLog(client, kv.NewKeyspace(uuid.NewString()))
	})
}

type brokenLog struct{}

func (brokenLog) Append(context.Context, string, models.JobEvent) error {
	return errors.New("connection refused")
}

func (brokenLog) Read(context.Context, string) ([]models.JobEvent, error) { return nil, nil }

func TestRecorder_SwallowsAppendErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := events.NewRecorder(brokenLog{}, logger)

	assert.NotPanics(t, func() {
		r.Emit(context.Background(), "job-1", models.EventSucceeded, nil)
	})
	assert.Contains(t, buf.String(), "event append dropped")
	assert.Contains(t, buf.String(), "job-1")
}

func TestRecorder_StampsTime(t *testing.T) {
	log := events.NewMemoryLog()
	r := events.NewRecorder(log, slog.Default())

	r.Emit(context.Background(), "job-1", models.EventAccepted, map[string]any{"sections": 2})
	evs, err := r.Read(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Positive(t, evs[0].TimestampMs)
	assert.Equal(t, 2, evs[0].Data["sections"])
}
