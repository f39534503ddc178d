package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/models"
)

func testRecord(id string, createdAt time.Time) *models.RunRecord {
	return &models.RunRecord{
		ID:        id,
		State:     models.SessionStateCompleted,
		Progress:  models.Progress{Completed: 2, Total: 2, Percentage: 100},
		Nodes:     []*models.ExecutionNode{{ID: "n1", Status: models.NodeStatusCompleted}},
		CreatedAt: createdAt,
	}
}

func TestHistory_SaveAndLoadRun(t *testing.T) {
	h := NewHistory(t.TempDir())
	ctx := context.Background()

	record := testRecord("run-1", time.Now())
	require.NoError(t, h.SaveRun(ctx, record))

	loaded, err := h.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.ID)
	assert.Equal(t, models.SessionStateCompleted, loaded.State)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "n1", loaded.Nodes[0].ID)
}

func TestHistory_SaveRunOverwrites(t *testing.T) {
	h := NewHistory(t.TempDir())
	ctx := context.Background()

	record := testRecord("run-1", time.Now())
	require.NoError(t, h.SaveRun(ctx, record))

	record.State = models.SessionStateFailed
	record.Error = "boom"
	require.NoError(t, h.SaveRun(ctx, record))

	loaded, err := h.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateFailed, loaded.State)
	assert.Equal(t, "boom", loaded.Error)
}

func TestHistory_SaveRunWithoutID(t *testing.T) {
	h := NewHistory(t.TempDir())

	err := h.SaveRun(context.Background(), &models.RunRecord{})
	require.Error(t, err)
}

func TestHistory_RunByIDNotFound(t *testing.T) {
	h := NewHistory(t.TempDir())

	_, err := h.RunByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, history.IsRunNotFound(err))
}

func TestHistory_DeleteRun(t *testing.T) {
	h := NewHistory(t.TempDir())
	ctx := context.Background()

	require.NoError(t, h.SaveRun(ctx, testRecord("run-1", time.Now())))
	require.NoError(t, h.DeleteRun(ctx, "run-1"))

	_, err := h.RunByID(ctx, "run-1")
	assert.True(t, history.IsRunNotFound(err))

	err = h.DeleteRun(ctx, "run-1")
	assert.True(t, history.IsRunNotFound(err))
}

func TestHistory_RunsPagination(t *testing.T) {
	h := NewHistory(t.TempDir())
	ctx := context.Background()

	base := time.Now()
	for i := range 5 {
		record := testRecord("run-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, h.SaveRun(ctx, record))
	}

	result, err := h.Runs(ctx, history.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Runs, 2)
	// Newest first.
	assert.Equal(t, "run-e", result.Runs[0].ID)
	assert.Equal(t, "run-d", result.Runs[1].ID)

	result, err = h.Runs(ctx, history.ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.False(t, result.HasNextPage)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "run-a", result.Runs[0].ID)

	result, err = h.Runs(ctx, history.ListOptions{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Runs)
	assert.False(t, result.HasNextPage)
}

func TestHistory_FileURLPrefix(t *testing.T) {
	dir := t.TempDir()
	h := NewHistory("file://" + dir)
	ctx := context.Background()

	require.NoError(t, h.SaveRun(ctx, testRecord("run-1", time.Now())))
	require.NoError(t, h.HealthCheck(ctx))

	loaded, err := h.RunByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.ID)
}
