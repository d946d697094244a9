package volumes

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTIFFFile writes a minimal classic little-endian TIFF with a single
// IFD and a single uncompressed 16-bit grayscale strip, enough to exercise
// readTIFFStripInfo.
func buildTIFFFile(t *testing.T, path string, width, height int, strip []byte) {
	t.Helper()

	type entry struct {
		tag, dtype uint16
		count      uint32
		value      uint32 // inline value (left-justified for short types, as real encoders do)
	}
	entries := []entry{
		{tagImageWidth, tiffShort, 1, uint32(width)},
		{tagImageLength, tiffShort, 1, uint32(height)},
		{tagBitsPerSample, tiffShort, 1, 16},
		{tagCompression, tiffShort, 1, 1},
		{tagSamplesPerPixel, tiffShort, 1, 1},
		{tagStripOffsets, tiffLong, 1, 0}, // patched below
	}

	header := make([]byte, 8)
	copy(header[0:2], "II")
	binary.LittleEndian.PutUint16(header[2:4], 42)
	binary.LittleEndian.PutUint32(header[4:8], 8) // IFD right after header

	ifdHeader := make([]byte, 2)
	binary.LittleEndian.PutUint16(ifdHeader, uint16(len(entries)))

	ifdBody := make([]byte, 0, 12*len(entries))
	for _, e := range entries {
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint16(buf[0:2], e.tag)
		binary.LittleEndian.PutUint16(buf[2:4], e.dtype)
		binary.LittleEndian.PutUint32(buf[4:8], e.count)
		binary.LittleEndian.PutUint32(buf[8:12], e.value)
		ifdBody = append(ifdBody, buf...)
	}

	nextIFDOffset := make([]byte, 4) // 0 == no more IFDs

	stripOffset := uint32(len(header) + len(ifdHeader) + len(ifdBody) + len(nextIFDOffset))
	// patch the StripOffsets entry's inline value field (bytes 8:12 of its 12-byte entry).
	stripEntryIdx := len(entries) - 1
	binary.LittleEndian.PutUint32(ifdBody[stripEntryIdx*12+8:stripEntryIdx*12+12], stripOffset)

	buf := append([]byte{}, header...)
	buf = append(buf, ifdHeader...)
	buf = append(buf, ifdBody...)
	buf = append(buf, nextIFDOffset...)
	buf = append(buf, strip...)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestReadTIFFStripInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "00000.tif")
	width, height := 4, 3
	strip := make([]byte, width*height*2)
	for i := 0; i < width*height; i++ {
		binary.LittleEndian.PutUint16(strip[i*2:i*2+2], uint16(i*37))
	}
	buildTIFFFile(t, path, width, height, strip)

	info, err := readTIFFStripInfo(path)
	require.NoError(t, err)
	assert.EqualValues(t, width, info.Width)
	assert.EqualValues(t, height, info.Height)
	assert.EqualValues(t, 16, info.BitsPerSample)
	assert.Greater(t, info.StripOffset, uint32(0))
}

func TestReadTIFFStripInfoRejectsWrongMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tif")
	require.NoError(t, os.WriteFile(path, []byte("not a tiff file at all"), 0o644))
	_, err := readTIFFStripInfo(path)
	assert.Error(t, err)
}
