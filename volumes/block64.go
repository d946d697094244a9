package volumes

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// block64TileBytes is the exact mapped length of a loaded 64^3 tile file,
// per spec.md §3's invariant.
const block64TileBytes = 64 * 64 * 64

// Block64 is the 64^3 voxel tile backend of spec.md §4.4, grounded on
// original_source/src/volume/volume64x4.rs's VolumeGrid64x4Mapped, with the
// DashMap-backed ad hoc TileCache/TileState there replaced by the shared
// TileCache type and the thread-local "last tile" fast path kept as
// lastKey/lastState fields.
type Block64 struct {
	dataDir string
	cache   *TileCache

	lastKey   TileKey
	lastHash  uint64
	lastState TileState
	haveLast  bool
}

// hash returns a fast, non-cryptographic digest of a TileKey for the
// render-thread one-entry fast path below: a cheap 64-bit pre-check before
// falling back to the full struct comparison on the rare hash collision.
func (k TileKey) hash() uint64 {
	var buf [13]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(k.X))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k.Y))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(k.Z))
	buf[12] = k.DS
	return xxhash.Sum64(buf[:])
}

// NewBlock64 constructs a Block64 backend rooted at dataDir, backed by
// cache. The caller is responsible for wiring cache's PathResolver to
// Block64PathFor(dataDir) and its enqueue callback to a Downloader.
func NewBlock64(dataDir string, cache *TileCache) *Block64 {
	return &Block64{dataDir: dataDir, cache: cache}
}

// Block64PathFor builds the canonical on-disk path for a Block64 tile,
// matching original_source/src/volume/volume64x4.rs's map_for format
// exactly (data_dir/64-4/d{ds:02}/z{z:03}/xyz-{x:03}-{y:03}-{z:03}-b{mask:03}-d{ds:02}.bin).
func Block64PathFor(dataDir string) PathResolver {
	return func(key TileKey) string {
		return filepath.Join(dataDir, "64-4",
			fmt.Sprintf("d%02d", key.DS),
			fmt.Sprintf("z%03d", key.Z),
			fmt.Sprintf("xyz-%03d-%03d-%03d-b%03d-d%02d.bin", key.X, key.Y, key.Z, 0xff, key.DS))
	}
}

// tileAt consults the one-entry local fast path before falling through to
// the shared TileCache, per spec.md §4.2's "Local fast path" note.
func (b *Block64) tileAt(x, y, z int, ds int) TileState {
	tileX, tileY, tileZ := x>>6, y>>6, z>>6
	key := TileKey{X: int32(tileX), Y: int32(tileY), Z: int32(tileZ), DS: uint8(ds)}
	h := key.hash()

	if b.haveLast && b.lastHash == h && b.lastKey == key {
		return b.lastState
	}

	state := b.cache.Acquire(key)
	b.lastKey, b.lastHash, b.lastState, b.haveLast = key, h, state, true
	return state
}

// DataDir returns the root directory this backend was constructed with.
func (b *Block64) DataDir() string { return b.dataDir }

// dropLastCached invalidates the one-entry fast path; Paint calls this
// first since area painting iterates many tiles and gains nothing from it.
func (b *Block64) dropLastCached() {
	b.haveLast = false
}

// byteOffset implements the §3 byte-layout formula for within-tile
// coordinates (tx,ty,tz) in [0,64).
func byteOffset(tx, ty, tz int) int {
	bx, by, bz := tx>>2, ty>>2, tz>>2
	block := bz*256 + by*16 + bx
	vx, vy, vz := tx&3, ty&3, tz&3
	return block*64 + vz*16 + vy*4 + vx
}

// Sample implements Volume.Sample.
func (b *Block64) Sample(xyz [3]float64, ds int) uint8 {
	x, y, z := int(xyz[0]), int(xyz[1]), int(xyz[2])
	if x < 0 || y < 0 || z < 0 {
		return 0
	}
	state := b.tileAt(x, y, z, ds)
	if state.Kind != StateLoaded {
		return 0
	}
	tile := state.Mapped.Bytes()
	off := byteOffset(x&63, y&63, z&63)
	if off < 0 || off >= len(tile) {
		return 0
	}
	return tile[off]
}

// SampleInterpolated implements Volume.SampleInterpolated, fast-pathing
// the case where all eight corners fall within a single tile so only one
// TileCache.Acquire call is needed, per spec.md §4.1.
func (b *Block64) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	x0f, dx := math.Floor(xyz[0]), xyz[0]-math.Floor(xyz[0])
	y0f, dy := math.Floor(xyz[1]), xyz[1]-math.Floor(xyz[1])
	z0f, dz := math.Floor(xyz[2]), xyz[2]-math.Floor(xyz[2])

	x0, y0, z0 := int(x0f), int(y0f), int(z0f)
	if x0 < 0 || y0 < 0 || z0 < 0 {
		return 0
	}

	fastPath := x0&63 != 63 && y0&63 != 63 && z0&63 != 63

	var p [8]float64
	if fastPath {
		state := b.tileAt(x0, y0, z0, ds)
		if state.Kind == StateLoaded {
			tile := state.Mapped.Bytes()
			tx, ty, tz := x0&63, y0&63, z0&63
			corners := [8][3]int{
				{tx, ty, tz}, {tx + 1, ty, tz}, {tx, ty + 1, tz}, {tx + 1, ty + 1, tz},
				{tx, ty, tz + 1}, {tx + 1, ty, tz + 1}, {tx, ty + 1, tz + 1}, {tx + 1, ty + 1, tz + 1},
			}
			for i, c := range corners {
				off := byteOffset(c[0], c[1], c[2])
				if off >= 0 && off < len(tile) {
					p[i] = float64(tile[off])
				}
			}
		}
	} else {
		x1, y1, z1 := x0f+1, y0f+1, z0f+1
		p[0] = float64(b.Sample([3]float64{x0f, y0f, z0f}, ds))
		p[1] = float64(b.Sample([3]float64{x1, y0f, z0f}, ds))
		p[2] = float64(b.Sample([3]float64{x0f, y1, z0f}, ds))
		p[3] = float64(b.Sample([3]float64{x1, y1, z0f}, ds))
		p[4] = float64(b.Sample([3]float64{x0f, y0f, z1}, ds))
		p[5] = float64(b.Sample([3]float64{x1, y0f, z1}, ds))
		p[6] = float64(b.Sample([3]float64{x0f, y1, z1}, ds))
		p[7] = float64(b.Sample([3]float64{x1, y1, z1}, ds))
	}

	c00 := p[0]*(1-dx) + p[1]*dx
	c10 := p[2]*(1-dx) + p[3]*dx
	c01 := p[4]*(1-dx) + p[5]*dx
	c11 := p[6]*(1-dx) + p[7]*dx

	c0 := c00*(1-dy) + c10*dy
	c1 := c01*(1-dy) + c11*dy

	return uint8(c0*(1-dz) + c1*dz)
}

// clampNonNegative matches the Rust original's xyz[plane_coord].max(0).
func clampNonNegative(v int32) int32 {
	if v < 0 {
		return 0
	}
	return v
}

// Paint implements a block-rastered paint, iterating whole tiles and
// bricks rather than calling Sample per pixel, per spec.md §4.4. Because
// the caller is expected to invoke Paint from coarsest to finest ds, a
// missing or not-yet-loaded tile simply leaves the output pixels
// untouched (the pyramidal fallback), rather than overwriting them with 0.
func (b *Block64) Paint(center [3]int32, axes Axes, canvasWidth, canvasHeight, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	b.dropLastCached()

	width := paintZoom * canvasWidth
	height := paintZoom * canvasHeight

	sfactor := int32(ds)
	tileSize := 64 * sfactor
	blockSize := 4 * sfactor

	minUC := center[axes.U] - int32(width)/2
	maxUC := center[axes.U] + int32(width)/2
	minVC := center[axes.V] - int32(height)/2
	maxVC := center[axes.V] + int32(height)/2
	pc := clampNonNegative(center[axes.Plane])

	tileMinUC := maxInt32(minUC/tileSize, 0)
	tileMaxUC := maxUC / tileSize
	tileMinVC := maxInt32(minVC/tileSize, 0)
	tileMaxVC := maxVC / tileSize

	tilePC := pc / tileSize
	tilePCOff := pc % tileSize
	blockPC := tilePCOff / blockSize
	blockPCOff := tilePCOff % blockSize

	for tileUC := tileMinUC; tileUC <= tileMaxUC; tileUC++ {
		for tileVC := tileMinVC; tileVC <= tileMaxVC; tileVC++ {
			var tileI [3]int32
			tileI[axes.U] = tileUC
			tileI[axes.V] = tileVC
			tileI[axes.Plane] = tilePC

			state := b.cache.Acquire(TileKey{X: tileI[0], Y: tileI[1], Z: tileI[2], DS: uint8(ds)})
			if state.Kind != StateLoaded {
				continue
			}
			tile := state.Mapped.Bytes()
			if len(tile) != block64TileBytes {
				continue
			}

			minTileUC := maxInt32(tileUC*tileSize, minUC) - tileUC*tileSize
			maxTileUC := minInt32(tileUC*tileSize+tileSize, maxUC) - tileUC*tileSize
			minTileVC := maxInt32(tileVC*tileSize, minVC) - tileVC*tileSize
			maxTileVC := minInt32(tileVC*tileSize+tileSize, maxVC) - tileVC*tileSize

			minBlockUC := minTileUC / blockSize
			maxBlockUC := (maxTileUC + blockSize - 1) / blockSize
			minBlockVC := minTileVC / blockSize
			maxBlockVC := (maxTileVC + blockSize - 1) / blockSize

			for blockVC := minBlockVC; blockVC < maxBlockVC; blockVC++ {
				for blockUC := minBlockUC; blockUC < maxBlockUC; blockUC++ {
					var blockI [3]int32
					blockI[axes.U] = blockUC
					blockI[axes.V] = blockVC
					blockI[axes.Plane] = blockPC
					boff := int(blockI[2])<<8 + int(blockI[1])<<4 + int(blockI[0])

					for vc := int32(0); vc < blockSize; vc += int32(paintZoom) {
						for uc := int32(0); uc < blockSize; uc += int32(paintZoom) {
							u := (tileUC*tileSize + blockUC*blockSize + uc - minUC) / int32(paintZoom)
							v := (tileVC*tileSize + blockVC*blockSize + vc - minVC) / int32(paintZoom)
							if u < 0 || u >= int32(canvasWidth) || v < 0 || v >= int32(canvasHeight) {
								continue
							}

							var offsI [3]int32
							offsI[axes.U] = uc / sfactor
							offsI[axes.V] = vc / sfactor
							offsI[axes.Plane] = blockPCOff / sfactor

							off := boff*64 + int(offsI[2])*16 + int(offsI[1])*4 + int(offsI[0])
							if off < 0 || off >= len(tile) {
								continue
							}
							value := cfg.Filter(tile[off])
							out.SetGray(int(u), int(v), value)
						}
					}
				}
			}
		}
	}
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
