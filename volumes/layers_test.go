package volumes

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayersMappedVolumeSample(t *testing.T) {
	dir := t.TempDir()
	width, height := 4, 3

	for z := 0; z < 2; z++ {
		strip := make([]byte, width*height*2)
		for i := 0; i < width*height; i++ {
			binary.LittleEndian.PutUint16(strip[i*2:i*2+2], uint16((i+z*10)*37))
		}
		buildTIFFFile(t, filepath.Join(dir, "0000"+itoaPad(z)+".tif"), width, height, strip)
	}

	vol, err := OpenLayersMappedVolume(dir)
	require.NoError(t, err)
	defer vol.Close()

	assert.Equal(t, width-1, vol.maxX)
	assert.Equal(t, height-1, vol.maxY)
	assert.Equal(t, 1, vol.maxZ)

	got := vol.Sample([3]float64{2, 1, 1}, 1)
	want := uint8((((1*width + 2) + 10) * 37) >> 8 & 0xff)
	assert.Equal(t, want, got)
}

func TestLayersMappedVolumeOutOfBoundsReturnsZero(t *testing.T) {
	dir := t.TempDir()
	strip := make([]byte, 2*2*2)
	buildTIFFFile(t, filepath.Join(dir, "00000.tif"), 2, 2, strip)

	vol, err := OpenLayersMappedVolume(dir)
	require.NoError(t, err)
	defer vol.Close()

	assert.Equal(t, uint8(0), vol.Sample([3]float64{0, 0, 5}, 1))
	assert.Equal(t, uint8(0), vol.Sample([3]float64{-1, 0, 0}, 1))
}

// itoaPad zero-pads z to one digit width for the "%05d"-style test file
// names built in these small fixtures (z is always < 10 here).
func itoaPad(z int) string {
	return string(rune('0' + z))
}
