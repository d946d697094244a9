package volumes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBlock64Tile creates a tile file of block64TileBytes bytes whose
// byte at index i equals i mod 256, matching scenario 1 of spec.md §8.
func writeBlock64Tile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data := make([]byte, block64TileBytes)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestBlock64(t *testing.T, dir string) *Block64 {
	t.Helper()
	pathFor := Block64PathFor(dir)
	cache := NewTileCache(pathFor, func(key TileKey, handle *DownloadHandle) {
		handle.setState(downloadFailed)
	}, nil, nil)
	return NewBlock64(dir, cache)
}

func TestBlock64ByteOffset(t *testing.T) {
	dir := t.TempDir()
	writeBlock64Tile(t, Block64PathFor(dir)(TileKey{X: 0, Y: 0, Z: 0, DS: 1}))

	b := newTestBlock64(t, dir)
	got := b.Sample([3]float64{3, 5, 7}, 1)
	assert.Equal(t, uint8(17463%256), got)
	assert.Equal(t, uint8(55), got)
}

func TestBlock64ByteOffsetFormula(t *testing.T) {
	assert.Equal(t, 17463, byteOffset(3, 5, 7))
}

func TestBlock64MissingTileReturnsZero(t *testing.T) {
	dir := t.TempDir()
	b := newTestBlock64(t, dir)
	assert.Equal(t, uint8(0), b.Sample([3]float64{3, 5, 7}, 1))
}

func TestBlock64PyramidalFallbackPaint(t *testing.T) {
	dir := t.TempDir()
	// Only the level-8 tile at tile-origin (0,0,0) exists; no level-1 tiles.
	writeBlock64Tile(t, Block64PathFor(dir)(TileKey{X: 0, Y: 0, Z: 0, DS: 8}))

	b := newTestBlock64(t, dir)
	axes := Axes{U: 0, V: 1, Plane: 2}
	out := NewGrayImage(16, 16)
	b.Paint([3]int32{64, 64, 0}, axes, 16, 16, 8, 1, DrawingConfig{}, out)

	nonZero := false
	for _, v := range out.Gray {
		if v != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "paint at ds=8 against a loaded level-8 tile must produce non-zero pixels")

	// At ds=1 with no level-1 tile loaded, paint must leave the canvas
	// untouched (zeros) rather than erase a coarser pass already drawn.
	fineOut := NewGrayImage(16, 16)
	for i := range fineOut.Gray {
		fineOut.Gray[i] = 77
	}
	b.Paint([3]int32{64, 64, 0}, axes, 16, 16, 1, 1, DrawingConfig{}, fineOut)
	for _, v := range fineOut.Gray {
		assert.Equal(t, uint8(77), v, "a missing fine tile must not overwrite a prior coarser pass")
	}
}

func TestBlock64SampleInterpolatedFastPath(t *testing.T) {
	dir := t.TempDir()
	writeBlock64Tile(t, Block64PathFor(dir)(TileKey{X: 0, Y: 0, Z: 0, DS: 1}))

	b := newTestBlock64(t, dir)
	// Exactly on a voxel centre, interpolation must equal the plain sample.
	assert.Equal(t, b.Sample([3]float64{10, 10, 10}, 1), b.SampleInterpolated([3]float64{10, 10, 10}, 1))
}

func TestTileKeyHashDistinguishesKeys(t *testing.T) {
	a := TileKey{X: 1, Y: 2, Z: 3, DS: 1}
	b := TileKey{X: 1, Y: 2, Z: 3, DS: 2}
	assert.NotEqual(t, a.hash(), b.hash())
	assert.Equal(t, a.hash(), a.hash())
}
