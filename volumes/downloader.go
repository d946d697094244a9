package volumes

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// maxInFlight bounds concurrent downloads per spec.md §4.3.
const maxInFlight = 32

// pollInterval is how often the dispatch loop wakes when idle or saturated.
const pollInterval = 50 * time.Millisecond

// ViewerHint is the downloader's notion of where the user is currently
// looking, used to prioritise the download queue by proximity.
type ViewerHint struct {
	CX, CY, CZ       float64
	ScreenW, ScreenH int
}

// downloadTask is one pending fetch, grounded on original_source/src/downloader.rs's
// DownloadTask(handle, x, y, z, downsampling_factor).
type downloadTask struct {
	key    TileKey
	handle *DownloadHandle
}

// URLBuilder turns a tile key into the backend-specific tile URL (spec.md §6).
type URLBuilder func(key TileKey) string

// BasicAuth is optional HTTP Basic credentials attached to every request.
type BasicAuth struct {
	Username, Password string
}

// Downloader is the bounded-parallelism fetch scheduler of spec.md §4.3,
// grounded on pmtiles/downloader.go's DownloadParts worker-pool shape,
// generalized from an index-ordered range-fetch into a priority-scheduled,
// persist-to-disk tile fetch with a live-updating viewer hint.
type Downloader struct {
	mu       sync.Mutex
	queue    []downloadTask
	inFlight int

	hint   ViewerHint
	hintMu sync.RWMutex

	urlFor  URLBuilder
	pathFor PathResolver
	auth    *BasicAuth
	client  *http.Client
	logger  *log.Logger
	metrics *downloaderMetrics

	wake chan struct{}
}

// NewDownloader constructs a Downloader. client may be nil to use
// http.DefaultClient; auth may be nil for unauthenticated backends.
func NewDownloader(urlFor URLBuilder, pathFor PathResolver, auth *BasicAuth, client *http.Client, logger *log.Logger, metrics *downloaderMetrics) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Downloader{
		urlFor:  urlFor,
		pathFor: pathFor,
		auth:    auth,
		client:  client,
		logger:  logger,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the pending queue, suitable for passing to
// NewTileCache as its enqueue callback.
func (d *Downloader) Enqueue(key TileKey, handle *DownloadHandle) {
	d.mu.Lock()
	d.queue = append(d.queue, downloadTask{key: key, handle: handle})
	depth := len(d.queue)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.queueDepth.Set(float64(depth))
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// SetViewerHint updates the position the priority sort measures distance
// against. Safe for concurrent use with Run.
func (d *Downloader) SetViewerHint(h ViewerHint) {
	d.hintMu.Lock()
	d.hint = h
	d.hintMu.Unlock()
}

// Run dispatches queued downloads until ctx is cancelled. It is meant to
// run on its own goroutine for the lifetime of the process.
func (d *Downloader) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.dispatchReady(ctx)
	}
}

// dispatchReady pops and launches as many tasks as the in-flight budget
// allows, each re-scored against the current viewer hint (the scheduling
// policy is "re-evaluated every dequeue" per spec.md §4.3).
func (d *Downloader) dispatchReady(ctx context.Context) {
	for {
		task, ok := d.popBest()
		if !ok {
			return
		}
		d.mu.Lock()
		d.inFlight++
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.inFlight.Set(float64(d.inFlight))
		}
		go d.fetch(ctx, task)
	}
}

// popBest removes and returns the highest-priority task, or false if the
// queue is empty or the in-flight budget is exhausted. Priority: the
// largest downsampling factor (coarsest level) first, then the tile
// nearest the viewer among equal levels.
func (d *Downloader) popBest() (downloadTask, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight >= maxInFlight || len(d.queue) == 0 {
		return downloadTask{}, false
	}

	hint := d.currentHint()

	bestIdx := 0
	bestDS := d.queue[0].key.DS
	bestDist := d.distanceSquared(d.queue[0].key, hint)
	for i := 1; i < len(d.queue); i++ {
		ds := d.queue[i].key.DS
		dist := d.distanceSquared(d.queue[i].key, hint)
		if ds > bestDS || (ds == bestDS && dist < bestDist) {
			bestIdx, bestDS, bestDist = i, ds, dist
		}
	}

	task := d.queue[bestIdx]
	d.queue[bestIdx] = d.queue[len(d.queue)-1]
	d.queue = d.queue[:len(d.queue)-1]
	if d.metrics != nil {
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}
	return task, true
}

func (d *Downloader) currentHint() ViewerHint {
	d.hintMu.RLock()
	defer d.hintMu.RUnlock()
	return d.hint
}

// tileWorldSize is the world-space extent of one tile side at downsampling
// factor ds (64 voxels per tile, each ds world units wide).
func tileWorldSize(ds uint8) float64 { return 64.0 * float64(ds) }

func (d *Downloader) distanceSquared(key TileKey, hint ViewerHint) float64 {
	size := tileWorldSize(key.DS)
	cx := (float64(key.X) + 0.5) * size
	cy := (float64(key.Y) + 0.5) * size
	cz := (float64(key.Z) + 0.5) * size
	dx, dy, dz := cx-hint.CX, cy-hint.CY, cz-hint.CZ
	return dx*dx + dy*dy + dz*dz
}

// fetch executes one HTTP GET, persists the body on success, and updates
// the shared handle per spec.md §4.3's 200/420/other status handling.
func (d *Downloader) fetch(ctx context.Context, task downloadTask) {
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.inFlight.Set(float64(d.inFlight))
		}
	}()

	start := time.Now()
	result := "failed"
	defer func() {
		if d.metrics != nil {
			d.metrics.requestLength.Observe(time.Since(start).Seconds())
			d.metrics.observeResult(result)
		}
	}()

	url := d.urlFor(task.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		d.logger.Printf("downloader: building request for %s: %v", task.key, err)
		task.handle.setState(downloadFailed)
		return
	}
	if d.auth != nil {
		req.SetBasicAuth(d.auth.Username, d.auth.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("downloader: fetching %s: %v", task.key, err)
		task.handle.setState(downloadFailed)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			d.logger.Printf("downloader: reading body for %s: %v", task.key, err)
			task.handle.setState(downloadFailed)
			return
		}
		if err := d.persist(task.key, body); err != nil {
			d.logger.Printf("downloader: persisting %s: %v", task.key, err)
			task.handle.setState(downloadFailed)
			return
		}
		d.logger.Printf("downloader: fetched %s (%s)", task.key, humanize.Bytes(uint64(len(body))))
		result = "done"
		task.handle.setState(downloadDone)
	case resp.StatusCode == 420:
		result = "delayed"
		task.handle.setState(downloadDelayed)
	default:
		d.logger.Printf("downloader: %s returned status %d", task.key, resp.StatusCode)
		task.handle.setState(downloadFailed)
	}
}

// persist writes body to the canonical on-disk path for key, creating
// parent directories. Writes are via a temp-file-then-rename so a reader
// racing the write never observes a partial file (spec.md §5 resource policy).
func (d *Downloader) persist(key TileKey, body []byte) error {
	path := d.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// QueueDepth reports the number of tasks not yet dispatched, mainly for tests.
func (d *Downloader) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// CheckAuthorization probes probeURL once with the configured credentials
// and reports whether the backend accepts them, grounded on
// original_source/src/downloader.rs's check_authorization: a 200 is
// authorized, a 401 is not, anything else is treated as not authorized
// and logged.
func (d *Downloader) CheckAuthorization(ctx context.Context, probeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		d.logger.Printf("downloader: building authorization probe: %v", err)
		return false
	}
	if d.auth != nil {
		req.SetBasicAuth(d.auth.Username, d.auth.Password)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("downloader: authorization probe request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true
	case http.StatusUnauthorized:
		return false
	default:
		d.logger.Printf("downloader: authorization probe returned status %d", resp.StatusCode)
		return false
	}
}
