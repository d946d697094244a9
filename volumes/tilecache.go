package volumes

import (
	"container/list"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// delayedCooldown is how long a DelayedUntil entry must age before an
// acquire is willing to re-enqueue it. It is a fixed package constant;
// NewTileCache takes no override.
const delayedCooldown = 10 * time.Second

// TileKey names one tile at one downsampling level, grounded on
// original_source/src/volume/volume64x4.rs's TileCache HashMap key.
type TileKey struct {
	X, Y, Z int32
	DS      uint8
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.X, k.Y, k.Z, k.DS)
}

// downloadState is the shared, mutable cell a Downloader writes to on
// completion; the cache polls it on the next acquire for that key.
type downloadState int32

const (
	downloadPending downloadState = iota
	downloadDone
	downloadDelayed
	downloadFailed
	downloadPruned
)

// DownloadHandle is the cell shared between a TileCache entry and the
// Downloader task that will eventually complete it.
type DownloadHandle struct {
	state atomic.Int32
}

func newDownloadHandle() *DownloadHandle {
	return &DownloadHandle{}
}

func (h *DownloadHandle) setState(s downloadState) { h.state.Store(int32(s)) }
func (h *DownloadHandle) getState() downloadState  { return downloadState(h.state.Load()) }

// TileStateKind discriminates the TileState variants of spec.md §3.
type TileStateKind int

const (
	StateMissing TileStateKind = iota
	StateLoaded
	StateDownloading
	StateDelayedUntil
)

// TileState is the value returned by TileCache.Acquire: a snapshot of one
// key's lifecycle, per original_source/src/volume/volume64x4.rs's TileState.
type TileState struct {
	Kind    TileStateKind
	Mapped  *mappedFile     // valid when Kind == StateLoaded
	Handle  *DownloadHandle // valid when Kind == StateDownloading
	Delayed time.Time       // valid when Kind == StateDelayedUntil
}

// entry is the cache's internal bookkeeping for one key, guarded by
// TileCache.mu. The list.Element lets purge/eviction walk entries by
// recency without a second map.
type entry struct {
	key        TileKey
	state      TileState
	lastAccess time.Time
	elem       *list.Element
}

// PathResolver maps a tile key to its canonical on-disk path. A concrete
// Block64 volume supplies one rooted at its cache directory.
type PathResolver func(key TileKey) string

// TileCache is the single shared authoritative map of (x,y,z,ds) → tile
// state described in spec.md §4.2, grounded on the channel-actor
// single-flight cache in pmtiles/server.go's Server.Start, generalized
// from pmtiles' (name,etag,offset,length) directory key to a tile key and
// from a network-only miss path to a memory-map-first, download-fallback
// miss path.
type TileCache struct {
	mu       sync.Mutex
	entries  map[TileKey]*entry
	recency  *list.List // front = most recently accessed
	pathFor  PathResolver
	enqueue  func(key TileKey, handle *DownloadHandle)
	logger   *log.Logger
	metrics  *cacheMetrics
	maxBytes int64 // 0 disables the optional size cap (spec §3 Lifecycles)
	bytes    int64
}

// NewTileCache constructs a cache rooted at the given path resolver.
// enqueue is called whenever a miss needs a download scheduled; in
// production it is Downloader.Enqueue.
func NewTileCache(pathFor PathResolver, enqueue func(key TileKey, handle *DownloadHandle), logger *log.Logger, metrics *cacheMetrics) *TileCache {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &TileCache{
		entries: make(map[TileKey]*entry),
		recency: list.New(),
		pathFor: pathFor,
		enqueue: enqueue,
		logger:  logger,
		metrics: metrics,
	}
}

// SetMaxBytes enables the optional size-capped LRU eviction mentioned as
// a MAY in spec.md §3 Lifecycles; 0 (the default) disables it.
func (c *TileCache) SetMaxBytes(n int64) {
	c.mu.Lock()
	c.maxBytes = n
	c.mu.Unlock()
}

// Acquire returns the current state for key, atomically populating it on
// first access and advancing Downloading/DelayedUntil entries toward
// Loaded or Missing as described in spec.md §4.2. Safe for concurrent use;
// at most one download is ever enqueued per key (single-flight).
func (c *TileCache) Acquire(key TileKey) TileState {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		ent = &entry{key: key}
		ent.elem = c.recency.PushFront(ent)
		c.entries[key] = ent
		c.populate(ent)
		ent.lastAccess = time.Now()
		c.updateGauges()
		return ent.state
	}

	c.recency.MoveToFront(ent.elem)
	ent.lastAccess = time.Now()

	switch ent.state.Kind {
	case StateDownloading:
		switch ent.state.Handle.getState() {
		case downloadDone:
			c.remap(ent)
		case downloadFailed:
			c.setMissing(ent)
		case downloadDelayed:
			ent.state = TileState{Kind: StateDelayedUntil, Delayed: time.Now()}
		case downloadPruned:
			c.populate(ent)
		case downloadPending:
			// still in flight, nothing to do
		}
	case StateDelayedUntil:
		if time.Since(ent.state.Delayed) > delayedCooldown {
			c.populate(ent)
		}
	}

	c.updateGauges()
	return ent.state
}

// updateGauges refreshes the entry-count and mapped-bytes gauges. Caller
// must hold c.mu.
func (c *TileCache) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.entries.Set(float64(len(c.entries)))
	c.metrics.mappedBytes.Set(float64(c.bytes))
}

// populate implements the (a)/(b) branch of spec.md §4.2's acquire: try a
// memory-map of the on-disk file first, and only enqueue a download on
// failure.
func (c *TileCache) populate(ent *entry) {
	path := c.pathFor(ent.key)
	mapped, err := mapFile(path, 0, 0)
	if err == nil {
		ent.state = TileState{Kind: StateLoaded, Mapped: mapped}
		c.trackBytes(ent, int64(len(mapped.Bytes())))
		if c.metrics != nil {
			c.metrics.loaded.Inc()
		}
		return
	}

	handle := newDownloadHandle()
	ent.state = TileState{Kind: StateDownloading, Handle: handle}
	if c.metrics != nil {
		c.metrics.downloading.Inc()
	}
	if c.enqueue != nil {
		c.enqueue(ent.key, handle)
	}
}

// remap re-maps a just-completed download from disk, matching spec.md
// §4.2's "re-maps from disk and transitions to Loaded (or Missing if the
// map fails)".
func (c *TileCache) remap(ent *entry) {
	path := c.pathFor(ent.key)
	mapped, err := mapFile(path, 0, 0)
	if err != nil {
		c.logger.Printf("tilecache: remap %s failed: %v", ent.key, err)
		c.setMissing(ent)
		return
	}
	ent.state = TileState{Kind: StateLoaded, Mapped: mapped}
	c.trackBytes(ent, int64(len(mapped.Bytes())))
	if c.metrics != nil {
		c.metrics.loaded.Inc()
	}
}

func (c *TileCache) setMissing(ent *entry) {
	ent.state = TileState{Kind: StateMissing}
	if c.metrics != nil {
		c.metrics.missing.Inc()
	}
}

// trackBytes folds the newly mapped size into the running total and, if a
// cap is set, evicts the least-recently-accessed Loaded entries until the
// cache is back under budget.
func (c *TileCache) trackBytes(ent *entry, size int64) {
	c.bytes += size
	if c.maxBytes == 0 {
		return
	}
	for e := c.recency.Back(); e != nil && c.bytes > c.maxBytes; {
		prev := e.Prev()
		victim := e.Value.(*entry)
		if victim != ent && victim.state.Kind == StateLoaded && victim.state.Mapped != nil {
			c.bytes -= int64(len(victim.state.Mapped.Bytes()))
			victim.state.Mapped.Close()
			c.recency.Remove(e)
			delete(c.entries, victim.key)
		}
		e = prev
	}
}

// PurgeMissing drops all entries in the Missing state so a subsequent
// Acquire retries them, per spec.md §4.2.
func (c *TileCache) PurgeMissing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ent := range c.entries {
		if ent.state.Kind == StateMissing {
			c.recency.Remove(ent.elem)
			delete(c.entries, key)
		}
	}
	c.updateGauges()
}

// Len reports the number of tracked entries, mainly for tests and metrics.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// DefaultCachePath builds the canonical on-disk path for a tile under
// root, following the flat (ds/x/y/z) layout original_source writes and
// reads tile files under.
func DefaultCachePath(root string) PathResolver {
	return func(key TileKey) string {
		return filepath.Join(root, strconv.Itoa(int(key.DS)),
			strconv.Itoa(int(key.X)), strconv.Itoa(int(key.Y)), strconv.Itoa(int(key.Z))+".bin")
	}
}

// cacheMetrics is defined in metrics.go.
