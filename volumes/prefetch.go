package volumes

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"
)

// PrefetchRegion describes a cuboid of tiles (in tile, not voxel,
// coordinates) to warm in the cache before interactive use, e.g. the
// footprint a backfill job has pre-segmented.
type PrefetchRegion struct {
	MinX, MinY, MinZ int32
	MaxX, MaxY, MaxZ int32 // exclusive
	DS               uint8
}

// TileCount returns the number of tiles the region covers.
func (r PrefetchRegion) TileCount() int64 {
	return int64(r.MaxX-r.MinX) * int64(r.MaxY-r.MinY) * int64(r.MaxZ-r.MinZ)
}

// Prefetch acquires every tile in region against b's cache, blocking until
// each has reached a terminal state (Loaded or Missing), bounded to
// maxInFlight concurrent polls via a weighted semaphore. progress is
// advanced by one per tile that reaches a terminal state; pass a quiet
// Progress from NewPrefetchProgress to suppress output.
//
// This is the CLI backfill path (spec.md's prefetch/backfill use case);
// interactive rendering never calls it, since Block64.Sample/Paint already
// tolerate in-flight tiles by returning 0 until they land.
func Prefetch(ctx context.Context, b *Block64, region PrefetchRegion, maxInFlight int64, progress Progress, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	sem := semaphore.NewWeighted(maxInFlight)
	var mu sync.Mutex
	var bytesTotal int64

	for z := region.MinZ; z < region.MaxZ; z++ {
		for y := region.MinY; y < region.MaxY; y++ {
			for x := region.MinX; x < region.MaxX; x++ {
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				key := TileKey{X: x, Y: y, Z: z, DS: region.DS}
				go func() {
					defer sem.Release(1)
					state := awaitTerminal(ctx, b.cache, key)
					mu.Lock()
					defer mu.Unlock()
					if state.Kind == StateLoaded && state.Mapped != nil {
						bytesTotal += int64(len(state.Mapped.Bytes()))
					}
					progress.Add(1)
				}()
			}
		}
	}
	// Wait for the remaining polls to finish.
	if err := sem.Acquire(ctx, maxInFlight); err != nil {
		return err
	}

	logger.Printf("prefetch complete: %d tiles, %s mapped", region.TileCount(), humanize.Bytes(uint64(bytesTotal)))
	return progress.Close()
}

// awaitTerminal polls TileCache.Acquire until key resolves to Loaded or
// Missing, re-acquiring after each DelayedUntil deadline.
func awaitTerminal(ctx context.Context, cache *TileCache, key TileKey) TileState {
	for {
		state := cache.Acquire(key)
		switch state.Kind {
		case StateLoaded, StateMissing:
			return state
		case StateDelayedUntil:
			wait := time.Until(state.Delayed)
			if wait < 0 {
				wait = 0
			}
			select {
			case <-ctx.Done():
				return state
			case <-time.After(wait + time.Millisecond):
			}
		default: // StateDownloading
			select {
			case <-ctx.Done():
				return state
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}
