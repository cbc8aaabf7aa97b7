package refdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSet(t *testing.T) {
	s := NewSet(
		[]string{"064_064", "120_031"},
		[]City{{ID: 1, Name: "Alphaville, AA"}, {ID: 2, Name: "Betatown, BB"}},
		map[string]int{
			"rgba(200,30,40,1)": 1,
			"rgba(10,200,50,1)": 2,
			"not a color":       3,
		},
	)

	require.True(t, s.HasTile("064_064"))
	require.False(t, s.HasTile("000_000"))
	require.False(t, s.HasTile(""))

	require.Equal(t, "Alphaville, AA", s.CityName(1))
	require.Equal(t, "", s.CityName(0))
	require.Equal(t, "", s.CityName(99))

	require.Equal(t, 1, s.ColorToID[PackRGB(200, 30, 40)])
	require.Equal(t, 2, s.ColorToID[PackRGB(10, 200, 50)])
	require.Len(t, s.ColorToID, 2, "unparseable color entry skipped")
}

func TestPackRGB(t *testing.T) {
	require.Equal(t, uint32(0x000000), PackRGB(0, 0, 0))
	require.Equal(t, uint32(0xFFFFFF), PackRGB(255, 255, 255))
	require.Equal(t, uint32(0xC81E28), PackRGB(200, 30, 40))
}

func TestLoadFromLocalDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("mastTileKeys.json", `["064_064"]`)
	write("2020cities15k_trimmed.json", `[{"i":1,"p":1000,"n":"Alphaville, AA","la":0.5,"lo":-0.5}]`)
	write("colorToId.json", `{"rgba(200,30,40,1)":1}`)
	t.Setenv("REFDATA_DIR", dir)

	s, err := Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"064_064"}, s.TileKeyList)
	require.Equal(t, "Alphaville, AA", s.Cities[1].Name)
	require.Equal(t, 0.5, s.Cities[1].Lat)
	require.Equal(t, 1, s.ColorToID[PackRGB(200, 30, 40)])
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("REFDATA_DIR", t.TempDir())
	_, err := Load(context.Background())
	require.Error(t, err)
}
