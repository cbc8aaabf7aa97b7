package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cafread/metrocity-api/internal/changelog"
	"github.com/cafread/metrocity-api/internal/geo"
	"github.com/cafread/metrocity-api/internal/lock"
	"github.com/cafread/metrocity-api/internal/refdata"
	"github.com/cafread/metrocity-api/internal/store"
	"github.com/cafread/metrocity-api/internal/tile"
)

type fakeOrigin struct {
	calls  int
	pixels []byte
	err    error
}

func (f *fakeOrigin) FetchTile(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pixels, nil
}

func testRef() *refdata.Set {
	return refdata.NewSet(
		[]string{"064_064"},
		[]refdata.City{
			{ID: 1, Name: "Alphaville, AA"},
			{ID: 2, Name: "Betatown, BB"},
		},
		map[string]int{
			"rgba(200,30,40,1)": 1,
			"rgba(10,200,50,1)": 2,
		},
	)
}

// testPixels：黑底，(5,7) 为城市 1，(20,20) 为城市 2
func testPixels() []byte {
	p := make([]byte, tile.PixelCount*3)
	set := func(x, y int, r, g, b byte) {
		i := (y*geo.TileSize + x) * 3
		p[i], p[i+1], p[i+2] = r, g, b
	}
	set(5, 7, 200, 30, 40)
	set(20, 20, 10, 200, 50)
	return p
}

func newTestManager(o Origin) (*Manager, *store.MemKV, *changelog.Tracker) {
	kv := store.NewMemKV()
	ref := testRef()
	lk := lock.New(kv)
	chlog := changelog.New(kv, lk, ref)
	mgr := NewManager(kv, o, ref, tile.NewCodec(ref), chlog)
	return mgr, kv, chlog
}

func TestReadTileUncoveredKeyNoIO(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{pixels: testPixels()}
	mgr, _, _ := newTestManager(fo)

	res, err := mgr.ReadTile(ctx, "000_000", []Target{{ID: "a", X: 1, Y: 1}})
	require.NoError(t, err)
	require.Equal(t, []Result{{ID: "a", MC: ""}}, res)
	require.Zero(t, fo.calls, "uncovered tile never touches the origin")

	res, err = mgr.ReadTile(ctx, "", []Target{{ID: "b"}})
	require.NoError(t, err)
	require.Equal(t, "", res[0].MC)
}

func TestReadTileMissFetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{pixels: testPixels()}
	mgr, kv, chlog := newTestManager(fo)
	before := time.Now().UnixMilli()

	res, err := mgr.ReadTile(ctx, "064_064", []Target{
		{ID: "hit1", X: 5, Y: 7},
		{ID: "hit2", X: 20, Y: 20},
		{ID: "ocean", X: 0, Y: 0},
	})
	require.NoError(t, err)
	require.Equal(t, 1, fo.calls)
	require.Equal(t, map[string]string{
		"hit1":  "Alphaville, AA",
		"hit2":  "Betatown, BB",
		"ocean": "",
	}, asMap(res))

	_, ok, _ := kv.Get(ctx, store.TilePrefix+"064_064")
	require.True(t, ok, "entry persisted")

	// 回源路径写入两份变更日志
	cities, err := chlog.ReadCityLog(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cities["1"], before)
	require.GreaterOrEqual(t, cities["2"], before)
	tiles, err := chlog.ReadTileLog(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, tiles["064_064"], before)

	// 命中路径不再回源
	_, err = mgr.ReadTile(ctx, "064_064", []Target{{ID: "x", X: 5, Y: 7}})
	require.NoError(t, err)
	require.Equal(t, 1, fo.calls)
}

func TestReadTileAppliesBorderRules(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{pixels: testPixels()}
	mgr, _, _ := newTestManager(fo)

	res, err := mgr.ReadTile(ctx, "064_064", []Target{
		{ID: "same", X: 5, Y: 7, CC: "AA"},
		{ID: "foreign", X: 5, Y: 7, CC: "BB"},
		{ID: "nocc", X: 5, Y: 7},
	})
	require.NoError(t, err)
	m := asMap(res)
	require.Equal(t, "Alphaville, AA", m["same"])
	require.Equal(t, "", m["foreign"], "foreign metro suppressed")
	require.Equal(t, "Alphaville, AA", m["nocc"], "no country, no border logic")
}

func TestReadTileOriginFailurePropagates(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{err: errors.New("origin down")}
	mgr, _, _ := newTestManager(fo)

	_, err := mgr.ReadTile(ctx, "064_064", []Target{{ID: "a", X: 1, Y: 1}})
	require.Error(t, err)
}

func TestCachedPalette(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{pixels: testPixels()}
	mgr, _, _ := newTestManager(fo)

	_, found, err := mgr.CachedPalette(ctx, "064_064")
	require.NoError(t, err)
	require.False(t, found)

	_, err = mgr.ReadTile(ctx, "064_064", nil)
	require.NoError(t, err)
	ids, found, err := mgr.CachedPalette(ctx, "064_064")
	require.NoError(t, err)
	require.True(t, found)
	require.ElementsMatch(t, []int{0, 1, 2}, ids)
}

func TestCachedTileKeys(t *testing.T) {
	ctx := context.Background()
	fo := &fakeOrigin{pixels: testPixels()}
	mgr, _, _ := newTestManager(fo)

	keys, err := mgr.CachedTileKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	_, err = mgr.ReadTile(ctx, "064_064", nil)
	require.NoError(t, err)
	keys, err = mgr.CachedTileKeys(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, "064_064")
}

func asMap(res []Result) map[string]string {
	m := make(map[string]string, len(res))
	for _, r := range res {
		m[r.ID] = r.MC
	}
	return m
}
