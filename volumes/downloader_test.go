package volumes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloaderPriorityOrder(t *testing.T) {
	d := NewDownloader(nil, nil, nil, nil, nil, nil)
	d.SetViewerHint(ViewerHint{CX: 0, CY: 0, CZ: 0})

	near := TileKey{X: 0, Y: 0, Z: 0, DS: 2}
	far := TileKey{X: 100, Y: 100, Z: 100, DS: 2}
	coarse := TileKey{X: 50, Y: 50, Z: 50, DS: 4}

	d.Enqueue(far, newDownloadHandle())
	d.Enqueue(near, newDownloadHandle())
	d.Enqueue(coarse, newDownloadHandle())

	// Coarser downsampling always wins regardless of distance.
	task, ok := d.popBest()
	require.True(t, ok)
	assert.Equal(t, coarse, task.key)

	// Among equal levels, nearest to the viewer wins.
	task, ok = d.popBest()
	require.True(t, ok)
	assert.Equal(t, near, task.key)

	task, ok = d.popBest()
	require.True(t, ok)
	assert.Equal(t, far, task.key)

	_, ok = d.popBest()
	assert.False(t, ok, "queue should be drained")
}

func TestDownloaderFetchPersistsOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	urlFor := func(key TileKey) string { return srv.URL }
	pathFor := func(key TileKey) string { return filepath.Join(dir, "tile.bin") }

	d := NewDownloader(urlFor, pathFor, nil, srv.Client(), nil, nil)
	handle := newDownloadHandle()
	d.Enqueue(TileKey{X: 1, Y: 1, Z: 1, DS: 1}, handle)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.dispatchReady(ctx)

	require.Eventually(t, func() bool {
		return handle.getState() == downloadDone
	}, time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "tile.bin"))
	require.NoError(t, err)
	assert.Equal(t, "tile-bytes", string(data))
}

func TestDownloaderFetchHandlesDelayed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(420)
	}))
	defer srv.Close()

	urlFor := func(key TileKey) string { return srv.URL }
	pathFor := func(key TileKey) string { return t.TempDir() + "/unused.bin" }

	d := NewDownloader(urlFor, pathFor, nil, srv.Client(), nil, nil)
	handle := newDownloadHandle()
	d.Enqueue(TileKey{X: 0, Y: 0, Z: 0, DS: 1}, handle)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.dispatchReady(ctx)

	require.Eventually(t, func() bool {
		return handle.getState() == downloadDelayed
	}, time.Second, 10*time.Millisecond)
}

func TestDownloaderInFlightCap(t *testing.T) {
	d := NewDownloader(nil, nil, nil, nil, nil, nil)
	d.inFlight = maxInFlight
	d.Enqueue(TileKey{X: 0, Y: 0, Z: 0, DS: 1}, newDownloadHandle())

	_, ok := d.popBest()
	assert.False(t, ok, "popBest must respect the in-flight cap")
}
