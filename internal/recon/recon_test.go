package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cafread/metrocity-api/internal/cache"
	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/pending"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/tile"
)

type fakeOrigin struct {
	fetched []string
	failing map[string]struct{}
}

// 全黑瓦片（纯海洋调色板）
func (f *fakeOrigin) FetchTile(_ context.Context, tileKey string) ([]byte, error) {
	f.fetched = append(f.fetched, tileKey)
	if _, bad := f.failing[tileKey]; bad {
		return nil, errors.New("origin down")
	}
	return make([]byte, tile.PixelCount*3), nil
}

type fixture struct {
	kv    *store.MemKV
	mgr   *cache.Manager
	queue *pending.Queue
	ref   *refdata.Set
	fo    *fakeOrigin
}

func newFixture(t *testing.T, failing ...string) *fixture {
	t.Helper()
	t.Setenv("RECON_TILE_DELAY_MS", "1")
	kv := store.NewMemKV()
	ref := refdata.NewSet(
		[]string{"064_064", "065_064", "066_064"},
		[]refdata.City{{ID: 1, Name: "Alphaville, AA"}},
		map[string]int{"rgba(200,30,40,1)": 1},
	)
	fo := &fakeOrigin{failing: make(map[string]struct{})}
	for _, tk := range failing {
		fo.failing[tk] = struct{}{}
	}
	lk := lock.New(kv)
	chlog := changelog.New(kv, lk, ref)
	mgr := cache.NewManager(kv, fo, ref, tile.NewCodec(ref), chlog)
	return &fixture{kv: kv, mgr: mgr, queue: pending.New(kv, lk), ref: ref, fo: fo}
}

func (fx *fixture) loop() *Loop { return NewFromEnv(fx.mgr, fx.queue, fx.ref) }

func TestBackfillFillsGaps(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// 预置一片，留两片缺口
	_, err := fx.mgr.ReadTile(ctx, "064_064", nil)
	require.NoError(t, err)
	fx.fo.fetched = nil

	fx.loop().Backfill(ctx)

	require.Equal(t, []string{"065_064", "066_064"}, fx.fo.fetched, "only the gaps are fetched, in master order")
	cached, err := fx.mgr.CachedTileKeys(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 3)
}

func TestBackfillNoGapsNoFetch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	for _, tk := range fx.ref.TileKeyList {
		_, err := fx.mgr.ReadTile(ctx, tk, nil)
		require.NoError(t, err)
	}
	fx.fo.fetched = nil

	fx.loop().Backfill(ctx)
	require.Empty(t, fx.fo.fetched)
}

func TestBackfillContinuesPastFailedTile(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "065_064")

	fx.loop().Backfill(ctx)

	require.Equal(t, []string{"064_064", "065_064", "066_064"}, fx.fo.fetched, "a failing tile does not abort the pass")
	cached, err := fx.mgr.CachedTileKeys(ctx)
	require.NoError(t, err)
	require.Contains(t, cached, "064_064")
	require.NotContains(t, cached, "065_064")
	require.Contains(t, cached, "066_064")
}

func TestBackfillStopsOnCancelledContext(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fx.loop().Backfill(ctx)
	require.Empty(t, fx.fo.fetched, "cancelled context stops before any fetch")
}

func TestSweepProcessesDueRecords(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.mgr.ReadTile(ctx, "064_064", nil)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	fx.queue.SetClock(func() time.Time { return past })
	require.NoError(t, fx.queue.Enqueue(ctx, "evt1", []string{"064_064"}, time.Minute, "test"))
	fx.queue.SetClock(time.Now)

	fx.loop().Sweep(ctx)

	_, ok, err := fx.kv.Get(ctx, store.TilePrefix+"064_064")
	require.NoError(t, err)
	require.False(t, ok, "due deletion replayed")
	_, ok, err = fx.kv.Get(ctx, store.PendingPrefix+"evt1")
	require.NoError(t, err)
	require.False(t, ok, "record removed after processing")
}
