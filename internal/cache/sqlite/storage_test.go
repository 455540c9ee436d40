package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/caseboard/internal/cache"
	"github.com/iudanet/caseboard/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	storage, err := New(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.Close())
	})
	return storage
}

func testReport(id, boardID, title string) *models.Report {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	return &models.Report{
		ID:        id,
		BoardID:   boardID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Sections: []models.Section{
			{ID: id + "-s1", Title: "Summary", Content: "text", Order: 0},
		},
	}
}

func TestStorage_PutGet(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	report := testReport("r1", "case-1", "Findings")
	require.NoError(t, storage.Put(ctx, report))

	got, err := storage.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestStorage_GetMissing(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStorage_PutUpsert(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	report := testReport("r1", "case-1", "Original")
	require.NoError(t, storage.Put(ctx, report))

	report.Title = "Renamed"
	report.Sections = append(report.Sections, models.Section{ID: "r1-s2", Order: 1})
	require.NoError(t, storage.Put(ctx, report))

	got, err := storage.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Len(t, got.Sections, 2)
}

func TestStorage_Delete(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.Put(ctx, testReport("r1", "case-1", "Findings")))
	require.NoError(t, storage.Delete(ctx, "r1"))

	_, err := storage.Get(ctx, "r1")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	// Удаление несуществующего отчета - не ошибка
	require.NoError(t, storage.Delete(ctx, "missing"))
}

func TestStorage_ListByBoard(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := testReport("r1", "case-1", "First")
	second := testReport("r2", "case-1", "Second")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	other := testReport("r3", "case-2", "Other board")

	require.NoError(t, storage.Put(ctx, first))
	require.NoError(t, storage.Put(ctx, second))
	require.NoError(t, storage.Put(ctx, other))

	reports, err := storage.ListByBoard(ctx, "case-1")
	require.NoError(t, err)

	// Только свой board, по возрастанию created_at
	require.Len(t, reports, 2)
	assert.Equal(t, "r1", reports[0].ID)
	assert.Equal(t, "r2", reports[1].ID)

	empty, err := storage.ListByBoard(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStorage_EmptySections(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	report := testReport("r1", "case-1", "No sections")
	report.Sections = nil
	require.NoError(t, storage.Put(ctx, report))

	got, err := storage.Get(ctx, "r1")
	require.NoError(t, err)
	assert.NotNil(t, got.Sections)
	assert.Empty(t, got.Sections)
}
