package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/pipeline"
)

func newClockedStore(start time.Time) (*MemoryStore, *time.Time) {
	store := NewMemoryStore()
	now := start
	store.now = func() time.Time { return now }
	return store, &now
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Task{ID: "job", Status: StatusPending, MaxRetries: 2}))
	require.ErrorIs(t, store.Create(ctx, &Task{ID: "job"}), ErrTaskConflict)

	claimed, err := store.Claim(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "job")
	require.ErrorIs(t, err, ErrTaskConflict)

	require.NoError(t, store.MarkFailed(ctx, "job", CodeTaskProcessing, "boom", false))
	claimed, err = store.Claim(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	assert.Empty(t, claimed.LastError)

	require.NoError(t, store.MarkFailed(ctx, "job", CodeTaskProcessing, "boom", false))
	_, err = store.Claim(ctx, "job")
	require.ErrorIs(t, err, ErrTaskExhausted)

	_, err = store.Claim(ctx, "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStoreTerminalFailureStopsRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Task{ID: "job", Status: StatusPending, MaxRetries: 5}))
	_, err := store.Claim(ctx, "job")
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, "job", CodeTaskProcessing, "no pdf", true))
	got, err := store.Get(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MaxRetries)
	assert.True(t, got.Done())
	assert.Equal(t, string(CodeTaskProcessing), got.ErrorCode)
}

func TestMemoryStoreResultIsCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Task{ID: "job", Status: StatusPending, MaxRetries: 1}))

	result := pipeline.Result{KnowledgeBaseID: "kb-1", Uploaded: []string{"a.pdf"}}
	require.NoError(t, store.MarkSucceeded(ctx, "job", result))
	result.Uploaded[0] = "mutated"

	got, err := store.Get(ctx, "job")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"a.pdf"}, got.Result.Uploaded)

	got.Result.Uploaded[0] = "again"
	again, _ := store.Get(ctx, "job")
	assert.Equal(t, "a.pdf", again.Result.Uploaded[0])

	_, err = store.Claim(ctx, "job")
	require.ErrorIs(t, err, ErrTaskCompleted)
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	store, now := newClockedStore(base)

	for i, id := range []string{"t1", "t2", "t3"} {
		*now = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, &Task{
			ID:         id,
			Status:     StatusPending,
			MaxRetries: 1,
			Request:    pipeline.Request{KnowledgeBaseName: "docs-" + id},
		}))
	}
	*now = base.Add(3 * time.Minute)
	require.NoError(t, store.MarkFailed(ctx, "t2", CodeTaskProcessing, "upload refused", true))
	*now = base.Add(4 * time.Minute)
	require.NoError(t, store.MarkSucceeded(ctx, "t3", pipeline.Result{KnowledgeBaseID: "kb-77"}))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, taskIDs(all))

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, taskIDs(asc))

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed, "bogus")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, taskIDs(failed))

	withKB, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, taskIDs(withKB))

	byQuery, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("REFUSED")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, taskIDs(byQuery))

	byKB, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("kb-77")}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, taskIDs(byKB))

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(150 * time.Second))}))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := store.List(ctx, buildListOptions([]ListOption{WithLimit(1), WithOffset(1)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, taskIDs(page))

	empty, err := store.List(ctx, buildListOptions([]ListOption{WithOffset(10)}))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	store, now := newClockedStore(base)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &Task{ID: id, Status: StatusPending, MaxRetries: 1}))
	}
	*now = base.Add(30 * time.Second)
	require.NoError(t, store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true))
	*now = base.Add(2 * time.Minute)
	require.NoError(t, store.MarkSucceeded(ctx, "c", pipeline.Result{KnowledgeBaseID: "kb"}))

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{
		Total:           3,
		Pending:         1,
		Succeeded:       1,
		Failed:          1,
		OldestUpdatedAt: base.Unix(),
		NewestUpdatedAt: base.Add(2 * time.Minute).Unix(),
	}, stats)

	filtered, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusPending)}))
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Total)
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}
