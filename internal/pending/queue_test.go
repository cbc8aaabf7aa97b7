package pending

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/store"
)

func newTestQueue() (*Queue, *lock.Locker, *store.MemKV, *time.Time) {
	kv := store.NewMemKV()
	now := time.UnixMilli(2_000_000_000_000)
	clock := func() time.Time { return now }
	kv.SetClock(func() time.Time { return now })
	lk := lock.New(kv)
	lk.SetClock(clock)
	q := New(kv, lk)
	q.SetClock(func() time.Time { return now })
	return q, lk, kv, &now
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _, kv, now := newTestQueue()

	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064"}, 10*time.Minute, "webhook commit commit1"))
	v1, ok, _ := kv.Get(ctx, store.PendingPrefix+"commit1")
	require.True(t, ok)

	// 同一事件重复投递：记录不变，notBefore 不被推后
	*now = now.Add(time.Minute)
	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064", "065_064"}, 10*time.Minute, "again"))
	v2, _, _ := kv.Get(ctx, store.PendingPrefix+"commit1")
	require.Equal(t, v1, v2)
}

func TestEnqueueEmptySetIsNoop(t *testing.T) {
	ctx := context.Background()
	q, _, kv, _ := newTestQueue()
	require.NoError(t, q.Enqueue(ctx, "commit1", nil, 0, ""))
	entries, _ := kv.List(ctx, store.PendingPrefix)
	require.Empty(t, entries)
}

func TestProcessDueRespectsNotBefore(t *testing.T) {
	ctx := context.Background()
	q, _, kv, now := newTestQueue()
	require.NoError(t, kv.Set(ctx, store.TilePrefix+"064_064", "cached", 0))
	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064"}, 10*time.Minute, ""))

	n, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "not yet due")
	_, ok, _ := kv.Get(ctx, store.TilePrefix+"064_064")
	require.True(t, ok)

	*now = now.Add(11 * time.Minute)
	n, err = q.ProcessDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, ok, _ = kv.Get(ctx, store.TilePrefix+"064_064")
	require.False(t, ok, "tile cache entry deleted")
	_, ok, _ = kv.Get(ctx, store.PendingPrefix+"commit1")
	require.False(t, ok, "pending record removed")
}

func TestProcessDueTwiceIsHarmless(t *testing.T) {
	ctx := context.Background()
	q, _, kv, now := newTestQueue()
	require.NoError(t, kv.Set(ctx, store.TilePrefix+"064_064", "cached", 0))
	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064"}, time.Minute, ""))
	*now = now.Add(2 * time.Minute)

	n, _ := q.ProcessDue(ctx)
	require.Equal(t, 1, n)
	n, _ = q.ProcessDue(ctx)
	require.Zero(t, n, "second pass finds nothing")
}

func TestProcessDueSkipsHeldEntries(t *testing.T) {
	ctx := context.Background()
	q, lk, kv, now := newTestQueue()
	require.NoError(t, kv.Set(ctx, store.TilePrefix+"064_064", "cached", 0))
	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064"}, time.Minute, ""))
	*now = now.Add(2 * time.Minute)

	// 另一个清扫者持有该条目的锁
	ok, err := lk.Acquire(ctx, "pending_commit1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := q.ProcessDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	_, ok2, _ := kv.Get(ctx, store.PendingPrefix+"commit1")
	require.True(t, ok2, "record remains for the next sweep")
	_, ok2, _ = kv.Get(ctx, store.TilePrefix+"064_064")
	require.True(t, ok2, "tile untouched while the lock is held elsewhere")
}

func TestRecordShape(t *testing.T) {
	ctx := context.Background()
	q, _, kv, now := newTestQueue()
	require.NoError(t, q.Enqueue(ctx, "commit1", []string{"064_064", "065_064"}, 10*time.Minute, "webhook commit commit1"))

	v, ok, _ := kv.Get(ctx, store.PendingPrefix+"commit1")
	require.True(t, ok)
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(v), &rec))
	require.Equal(t, []string{"064_064", "065_064"}, rec.TileKeys)
	require.Equal(t, now.UnixMilli(), rec.CreatedAt)
	require.Equal(t, now.Add(10*time.Minute).UnixMilli(), rec.NotBefore)
	require.Equal(t, "webhook commit commit1", rec.Reason)
}
