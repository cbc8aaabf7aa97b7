package geo

import (
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectKnownPoints(t *testing.T) {
	// 原点（赤道 × 本初子午线）应落在地图正中
	x, y := Project(0, 0)
	require.InDelta(t, 16384.0, x, 1e-9)
	require.InDelta(t, 16384.0, y, 1e-9)
	require.Equal(t, "064_064", TileKeyOf(x, y))
}

func TestProjectTileKeyPattern(t *testing.T) {
	pat := regexp.MustCompile(`^\d{3}_\d{3}$`)
	cases := []struct {
		lat, lon float64
	}{
		{0.1, 0.1},
		{51.5007, -0.1246},
		{-33.8688, 151.2093},
		{85.0511287798066, 179.9},
		{-85.0511287798066, -179.9},
		{1.3521, 103.8198},
	}
	for _, c := range cases {
		x, y := Project(c.lat, c.lon)
		key := TileKeyOf(x, y)
		require.Regexp(t, pat, key, "lat=%v lon=%v", c.lat, c.lon)
	}
}

func TestProjectBeyondMercatorRange(t *testing.T) {
	for _, lat := range []float64{85.06, -85.06, 90, -90} {
		x, y := Project(lat, 10)
		require.True(t, math.IsNaN(x))
		require.True(t, math.IsNaN(y))
		require.Equal(t, "", TileKeyOf(x, y))
	}
}

func TestProjectLongitudeRollover(t *testing.T) {
	x1, y1 := Project(10, 190)
	x2, y2 := Project(10, -170)
	require.InDelta(t, x2, x1, 1e-9)
	require.InDelta(t, y2, y1, 1e-9)

	x3, _ := Project(0, 540)
	x4, _ := Project(0, -180)
	require.InDelta(t, x4, x3, 1e-9)
}

func TestPixelOffsetRange(t *testing.T) {
	for _, c := range [][2]float64{{0.1, 0.1}, {51.5, -0.12}, {-45, 170}, {80, -120}} {
		x, y := Project(c[0], c[1])
		px, py := PixelOffset(x, y)
		require.GreaterOrEqual(t, px, 0)
		require.Less(t, px, TileSize)
		require.GreaterOrEqual(t, py, 0)
		require.Less(t, py, TileSize)
	}
}

func TestIsValidTileKey(t *testing.T) {
	require.True(t, IsValidTileKey("064_064"))
	require.True(t, IsValidTileKey("000_127"))
	require.False(t, IsValidTileKey("64_64"))
	require.False(t, IsValidTileKey("064-064"))
	require.False(t, IsValidTileKey("064_0640"))
	require.False(t, IsValidTileKey(""))
	require.False(t, IsValidTileKey(`"064_064"`))
}
