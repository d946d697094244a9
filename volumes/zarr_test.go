package volumes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBucket is an in-memory Bucket for zarr tests; unknown keys report
// ErrChunkNotFound so loadChunk's negative-cache path can be exercised.
type memBucket struct {
	objects map[string][]byte
	gets    map[string]int
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte), gets: make(map[string]int)}
}

func (b *memBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.gets[key]++
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrChunkNotFound)
	}
	return data, nil
}

func (b *memBucket) Close() error { return nil }

func zarrayJSON(t *testing.T, chunks, shape []int) []byte {
	t.Helper()
	def := ZarrArrayDef{
		Chunks:     chunks,
		Compressor: ZarrCompressor{CompressionName: "lz4", ID: "blosc"},
		Dtype:      "|u1",
		FillValue:  0,
		Order:      "C",
		Shape:      shape,
		ZarrFormat: 2,
	}
	raw, err := json.Marshal(def)
	require.NoError(t, err)
	return raw
}

func TestZarrArrayOpenParsesMetadata(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{16, 16, 16})

	arr, err := OpenZarrArray(context.Background(), bucket, "vol", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []int{16, 16, 16}, arr.Shape())
	assert.Equal(t, []int{4, 4, 4}, arr.def.Chunks)
}

func TestZarrArrayChunkCoordAndOffset(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{16, 16, 16})
	arr, err := OpenZarrArray(context.Background(), bucket, "vol", t.TempDir())
	require.NoError(t, err)

	coord, offset := arr.chunkCoordAndOffset([]int{9, 1, 14})
	assert.Equal(t, []int{2, 0, 3}, coord)
	assert.Equal(t, []int{1, 1, 2}, offset)
}

func TestLinearIndexCOrderFold(t *testing.T) {
	// extents {4,4,4}: innermost axis (index 2) varies fastest.
	assert.Equal(t, 0, linearIndex([]int{0, 0, 0}, []int{4, 4, 4}))
	assert.Equal(t, 1, linearIndex([]int{0, 0, 1}, []int{4, 4, 4}))
	assert.Equal(t, 4, linearIndex([]int{0, 1, 0}, []int{4, 4, 4}))
	assert.Equal(t, 16, linearIndex([]int{1, 0, 0}, []int{4, 4, 4}))
	assert.Equal(t, 1*16+1*4+1, linearIndex([]int{1, 1, 1}, []int{4, 4, 4}))
}

func TestChunkKeyJoin(t *testing.T) {
	assert.Equal(t, "2.0.3", chunkKey([]int{2, 0, 3}))
}

func TestZarrArrayCachePathDerivedFromSHA256(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{16, 16, 16})
	arr, err := OpenZarrArray(context.Background(), bucket, "vol", "/cache")
	require.NoError(t, err)

	p1 := arr.chunkCachePath("0.0.0")
	p2 := arr.chunkCachePath("0.0.0")
	p3 := arr.chunkCachePath("0.0.1")
	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	assert.True(t, len(filepath.Base(filepath.Dir(p1))) == 2)
}

func TestZarrArraySampleRoundTripThroughBloscChunk(t *testing.T) {
	cacheDir := t.TempDir()
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{8, 8, 8})

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	chunkFile := filepath.Join(t.TempDir(), "chunk.bin")
	buildBloscFile(t, chunkFile, payload)
	raw, err := os.ReadFile(chunkFile)
	require.NoError(t, err)
	bucket.objects["vol/0.0.0"] = raw

	arr, err := OpenZarrArray(context.Background(), bucket, "vol", cacheDir)
	require.NoError(t, err)

	// global index (1,0,2) within chunk (4,4,4) -> offset (1,0,2) ->
	// linear = 1*16 + 0*4 + 2 = 18.
	v := arr.Sample(context.Background(), []int{1, 0, 2})
	assert.Equal(t, payload[18], v)

	// second sample from the same chunk must not re-fetch from the bucket.
	_ = arr.Sample(context.Background(), []int{1, 0, 3})
	assert.Equal(t, 1, bucket.gets["vol/0.0.0"])
}

func TestZarrArraySampleOutOfBoundsReturnsZero(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{8, 8, 8})
	arr, err := OpenZarrArray(context.Background(), bucket, "vol", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, uint8(0), arr.Sample(context.Background(), []int{-1, 0, 0}))
	assert.Equal(t, uint8(0), arr.Sample(context.Background(), []int{8, 0, 0}))
}

func TestZarrArrayMissingChunkNegativeCached(t *testing.T) {
	bucket := newMemBucket()
	bucket.objects["vol/.zarray"] = zarrayJSON(t, []int{4, 4, 4}, []int{8, 8, 8})
	arr, err := OpenZarrArray(context.Background(), bucket, "vol", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, uint8(0), arr.Sample(context.Background(), []int{0, 0, 0}))
	assert.Equal(t, uint8(0), arr.Sample(context.Background(), []int{0, 0, 1}))
	// both samples fall in chunk 0.0.0; the second must hit the negative
	// cache rather than re-fetching.
	assert.Equal(t, 1, bucket.gets["vol/0.0.0"])
}
