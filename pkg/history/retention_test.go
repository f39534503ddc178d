package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/history/file"
	"github.com/runtrace/runtrace/pkg/log"
	"github.com/runtrace/runtrace/pkg/models"
)

func TestNewRetention_Validation(t *testing.T) {
	logger := log.WithModule("test")
	h := file.NewHistory(t.TempDir())

	_, err := history.NewRetention(h, "not a cron expr", time.Hour, logger)
	require.Error(t, err)

	_, err = history.NewRetention(h, "0 * * * *", 0, logger)
	require.Error(t, err)

	_, err = history.NewRetention(h, "0 * * * *", time.Hour, logger)
	require.NoError(t, err)
}

func TestRetention_Sweep(t *testing.T) {
	logger := log.WithModule("test")
	h := file.NewHistory(t.TempDir())
	ctx := context.Background()

	now := time.Now()
	records := []*models.RunRecord{
		{ID: "old-1", State: models.SessionStateCompleted, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "old-2", State: models.SessionStateFailed, CreatedAt: now.Add(-25 * time.Hour)},
		{ID: "fresh", State: models.SessionStateCompleted, CreatedAt: now.Add(-time.Hour)},
	}
	for _, record := range records {
		require.NoError(t, h.SaveRun(ctx, record))
	}

	retention, err := history.NewRetention(h, "0 * * * *", 24*time.Hour, logger)
	require.NoError(t, err)

	require.NoError(t, retention.Sweep(ctx))

	_, err = h.RunByID(ctx, "old-1")
	assert.True(t, history.IsRunNotFound(err))
	_, err = h.RunByID(ctx, "old-2")
	assert.True(t, history.IsRunNotFound(err))

	fresh, err := h.RunByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", fresh.ID)
}

func TestRetention_SweepEmptyHistory(t *testing.T) {
	h := file.NewHistory(t.TempDir())

	retention, err := history.NewRetention(h, "0 * * * *", time.Hour, log.WithModule("test"))
	require.NoError(t, err)

	require.NoError(t, retention.Sweep(context.Background()))
}
