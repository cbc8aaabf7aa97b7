package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemKVGetSetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()

	_, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set(ctx, "a", "1", 0))
	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, kv.Delete(ctx, "a"))
	_, ok, _ = kv.Get(ctx, "a")
	require.False(t, ok)
}

func TestMemKVTTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()
	now := time.Unix(1000, 0)
	kv.SetClock(func() time.Time { return now })

	require.NoError(t, kv.Set(ctx, "a", "1", 5*time.Second))
	_, ok, _ := kv.Get(ctx, "a")
	require.True(t, ok)

	now = now.Add(6 * time.Second)
	_, ok, _ = kv.Get(ctx, "a")
	require.False(t, ok, "expired key is gone")
}

func TestMemKVListPrefix(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()
	require.NoError(t, kv.Set(ctx, TilePrefix+"064_064", "x", 0))
	require.NoError(t, kv.Set(ctx, TilePrefix+"065_064", "y", 0))
	require.NoError(t, kv.Set(ctx, PendingPrefix+"abc", "z", 0))

	entries, err := kv.List(ctx, TilePrefix)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, TilePrefix+"064_064", entries[0].Key)
	require.Equal(t, TilePrefix+"065_064", entries[1].Key)
}

func TestMemKVConditionalWrite(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()

	// 期望不存在：仅首个写入者成功
	ok, err := kv.ConditionalWrite(ctx, "k", "", "v1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = kv.ConditionalWrite(ctx, "k", "", "v2", 0)
	require.False(t, ok)

	// 期望旧值：匹配成功、不匹配失败
	ok, _ = kv.ConditionalWrite(ctx, "k", "v1", "v3", 0)
	require.True(t, ok)
	ok, _ = kv.ConditionalWrite(ctx, "k", "v1", "v4", 0)
	require.False(t, ok)

	v, _, _ := kv.Get(ctx, "k")
	require.Equal(t, "v3", v)
}

func TestMemKVConditionalWriteAfterExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV()
	now := time.Unix(1000, 0)
	kv.SetClock(func() time.Time { return now })

	ok, _ := kv.ConditionalWrite(ctx, "k", "", "v1", time.Second)
	require.True(t, ok)

	// 过期后键视为不存在，期望缺失的写入重新成功
	now = now.Add(2 * time.Second)
	ok, _ = kv.ConditionalWrite(ctx, "k", "", "v2", 0)
	require.True(t, ok)
}
