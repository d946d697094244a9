package volumes

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBloscFile writes a minimal single-block, single-typesize Blosc1
// chunk compressed with LZ4, per the layout in spec.md §3.
func buildBloscFile(t *testing.T, path string, payload []byte) {
	t.Helper()

	compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(payload, compressed)
	require.NoError(t, err)
	require.Greater(t, n, 0)
	compressed = compressed[:n]

	header := make([]byte, 16)
	header[0] = 2            // version
	header[1] = 1            // version_lz
	header[2] = byte(1 << 5) // compressor = lz4 (flags >> 5 == 1), shuffle none
	header[3] = 1            // typesize
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload))) // single block == whole chunk

	// One block means one 4-byte offset entry; it points at the start of
	// that block's own region, which begins right after the offset table.
	offsetTable := make([]byte, 4)
	blockStart := uint32(len(header) + len(offsetTable))
	binary.LittleEndian.PutUint32(offsetTable, blockStart)

	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(compressed)))

	buf := append([]byte{}, header...)
	buf = append(buf, offsetTable...)
	buf = append(buf, lenPrefix...)
	buf = append(buf, compressed...)

	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(buf))) // cbytes = total file size

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestBloscChunkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.0.0")
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	buildBloscFile(t, path, payload)

	chunk, err := LoadBloscChunk(path)
	require.NoError(t, err)
	defer chunk.Close()

	assert.Equal(t, CompressorLZ4, chunk.Header.Compressor)
	assert.Equal(t, 1, chunk.Header.numBlocks())

	ctx := NewBloscContext(chunk)
	for i := 0; i < len(payload); i++ {
		v, err := ctx.Get(i)
		require.NoError(t, err)
		assert.Equal(t, payload[i], v)
	}
}

func TestBloscHeaderParsing(t *testing.T) {
	b := make([]byte, 16)
	b[0], b[1] = 2, 1
	b[2] = byte(4 << 5) // zstd
	b[3] = 1
	binary.LittleEndian.PutUint32(b[4:8], 1024)
	binary.LittleEndian.PutUint32(b[8:12], 512)
	binary.LittleEndian.PutUint32(b[12:16], 200)

	h, err := parseBloscHeader(b)
	require.NoError(t, err)
	assert.Equal(t, CompressorZstd, h.Compressor)
	assert.Equal(t, 1024, h.NBytes)
	assert.Equal(t, 512, h.BlockSize)
	assert.Equal(t, 2, h.numBlocks())
}

func TestBloscHeaderTooShort(t *testing.T) {
	_, err := parseBloscHeader([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFormatMismatch)
}
