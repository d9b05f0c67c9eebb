package pmtiles

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileID(t *testing.T) {
	assert.Equal(t, uint64(0), TileID(0, 0, 0))
	assert.Equal(t, uint64(1), TileID(1, 0, 0))
	assert.Equal(t, uint64(2), TileID(1, 0, 1))
	assert.Equal(t, uint64(3), TileID(1, 1, 1))
	assert.Equal(t, uint64(4), TileID(1, 1, 0))
	assert.Equal(t, uint64(5), TileID(2, 0, 0))
	assert.Equal(t, uint64(20), TileID(2, 3, 0))
}

func TestWriteOpenRoundTrip(t *testing.T) {
	shared := []byte("same blob")
	tiles := []Tile{
		{Z: 2, X: 1, Y: 1, Data: []byte("two-one-one")},
		{Z: 0, X: 0, Y: 0, Data: []byte("root")},
		{Z: 1, X: 0, Y: 0, Data: shared},
		{Z: 1, X: 0, Y: 1, Data: shared},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, tiles, WriteOptions{
		Metadata: map[string]any{"name": "plantability"},
		Bounds:   [4]float64{4.7, 45.6, 5.0, 45.9},
	}))

	a, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	h := a.Header()
	assert.Equal(t, uint8(0), h.MinZoom)
	assert.Equal(t, uint8(2), h.MaxZoom)
	assert.Equal(t, uint64(4), h.AddressedTiles)
	assert.Equal(t, uint64(3), h.TileEntries, "consecutive identical tiles share a run")
	assert.Equal(t, uint64(3), h.TileContents)
	assert.Equal(t, int32(47000000), h.MinLonE7)
	assert.Equal(t, "plantability", a.Metadata()["name"])

	for _, tile := range tiles {
		got, err := a.Tile(tile.Z, tile.X, tile.Y)
		require.NoError(t, err)
		assert.Equal(t, tile.Data, got)
	}

	_, err = a.Tile(1, 1, 1)
	assert.ErrorIs(t, err, ErrTileNotFound)
	_, err = a.Tile(9, 0, 0)
	assert.ErrorIs(t, err, ErrTileNotFound)
	_, err = a.Tile(1, 5, 0)
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestWriteRejects(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, nil, WriteOptions{}))
	assert.Error(t, Write(&buf, []Tile{{Z: 1, Data: []byte("a")}, {Z: 1, Data: []byte("b")}}, WriteOptions{}))
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open(bytes.NewReader(bytes.Repeat([]byte{'x'}, 200)))
	assert.ErrorIs(t, err, ErrNotArchive)
}
