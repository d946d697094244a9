package volumes

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// OmeCoordinateTransformation is one entry of an OME-Zarr dataset's
// "coordinateTransformations" array; only the "scale" kind is used here.
type OmeCoordinateTransformation struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// OmeDataset names one multiscale level.
type OmeDataset struct {
	CoordinateTransformations []OmeCoordinateTransformation `json:"coordinateTransformations"`
	Path                      string                         `json:"path"`
}

// OmeAxis describes one array axis in the multiscale metadata.
type OmeAxis struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// OmeMultiScale is one entry of ".zattrs"'s "multiscales" array.
type OmeMultiScale struct {
	Axes     []OmeAxis    `json:"axes"`
	Datasets []OmeDataset `json:"datasets"`
	Name     string       `json:"name"`
	Version  string       `json:"version"`
}

// OmeZarrAttrs is the parsed ".zattrs" document.
type OmeZarrAttrs struct {
	Multiscales []OmeMultiScale `json:"multiscales"`
}

// maxOmeLevels bounds how many multiscale levels are opened eagerly,
// matching original_source/src/zarr/ome.rs's ".take(4) // FIXME".
const maxOmeLevels = 4

// OMEZarr is the multiscale pyramid wrapper of spec.md §4.5, grounded on
// original_source/src/zarr/ome.rs's OmeZarrContext, generalized from a
// ColorScheme-parameterized RGBA painter to a plain uint8 Volume (colour
// mapping, where wanted, composes via RGBVolume/OverlayVolume instead).
type OMEZarr struct {
	levels []*ZarrArray
}

// OpenOMEZarr fetches basePath+"/.zattrs" from bucket, opens up to
// maxOmeLevels of the first multiscale's datasets as ZarrArrays (each
// under its own cacheDir subdirectory named by dataset path), and returns
// the pyramid wrapper.
func OpenOMEZarr(ctx context.Context, bucket Bucket, basePath, cacheDir string) (*OMEZarr, error) {
	raw, err := bucket.Get(ctx, strings.TrimSuffix(basePath, "/")+"/.zattrs")
	if err != nil {
		return nil, fmt.Errorf("reading %s/.zattrs: %w", basePath, err)
	}
	var attrs OmeZarrAttrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("%s/.zattrs: %w: %v", basePath, ErrFormatMismatch, err)
	}
	if len(attrs.Multiscales) == 0 {
		return nil, fmt.Errorf("%s/.zattrs: %w: no multiscales", basePath, ErrFormatMismatch)
	}

	datasets := attrs.Multiscales[0].Datasets
	if len(datasets) > maxOmeLevels {
		datasets = datasets[:maxOmeLevels]
	}

	levels := make([]*ZarrArray, 0, len(datasets))
	for _, ds := range datasets {
		levelPath := strings.TrimSuffix(basePath, "/") + "/" + ds.Path
		levelCache := cacheDir + "/" + ds.Path
		arr, err := OpenZarrArray(ctx, bucket, levelPath, levelCache)
		if err != nil {
			return nil, err
		}
		levels = append(levels, arr)
	}

	return &OMEZarr{levels: levels}, nil
}

// PurgeMissing clears each level's negative (confirmed-absent) chunk
// cache, matching original_source/src/zarr/ome.rs's pre-paint
// purge_missing so a previously 404'ing chunk is retried.
func (o *OMEZarr) PurgeMissing() {
	for _, lvl := range o.levels {
		lvl.mu.Lock()
		lvl.negative = make(map[string]bool)
		lvl.mu.Unlock()
	}
}

// log2PowerOfTwo returns log2(n) for n a positive power of two.
func log2PowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	return bits.TrailingZeros(uint(n))
}

// Sample implements the per-level pyramidal fallback of spec.md §4.5:
// translate ds into a starting level s0 = log2(ds), then walk s0..max
// shifting the query right by s at each level, returning the first
// non-zero value found, or 0. zyx is a full-resolution (level-0) index in
// (z,y,x) axis order, NOT pre-divided by ds — level s0's lookup is
// zyx>>s0, which is zyx/ds, matching original_source/src/zarr/ome.rs's
// inner get(xyz, scale) (called with xyz already multiplied by
// downsampling by the outer get()). Axis order matches the ZarrArray's
// on-disk C-order axes (see ome.rs's call site, which reverses (x,y,z)
// to [z,y,x]).
func (o *OMEZarr) Sample(ctx context.Context, zyx [3]int, ds int) uint8 {
	if len(o.levels) == 0 {
		return 0
	}
	maxLevel := len(o.levels) - 1
	s0 := log2PowerOfTwo(ds)
	if s0 > maxLevel {
		s0 = maxLevel
	}
	for s := s0; s <= maxLevel; s++ {
		scaled := [3]int{zyx[0] >> uint(s), zyx[1] >> uint(s), zyx[2] >> uint(s)}
		v := o.levels[s].Sample(ctx, scaled[:])
		if v != 0 {
			return v
		}
	}
	return 0
}

// OMEVolume adapts an OMEZarr to the Volume interface, translating
// world-space (x,y,z) samples into the (z,y,x) index order OMEZarr.Sample
// expects and providing the default trilinear/paint bodies.
type OMEVolume struct {
	zarr *OMEZarr
	// ctx bounds every chunk fetch triggered through Sample/Paint. Stored
	// here rather than threaded as a parameter only because Volume's
	// interface methods take none; never read this field for anything
	// but the fetches inside Sample, and never add a second long-lived
	// Context-bearing field beside it.
	ctx context.Context
}

// NewOMEVolume wraps zarr as a Volume. ctx bounds every chunk fetch Sample
// may trigger; callers typically pass context.Background() since reads
// here are synchronous fetch-then-cache rather than queued downloads.
func NewOMEVolume(zarr *OMEZarr, ctx context.Context) *OMEVolume {
	if ctx == nil {
		ctx = context.Background()
	}
	return &OMEVolume{zarr: zarr, ctx: ctx}
}

func (v *OMEVolume) Sample(xyz [3]float64, ds int) uint8 {
	x, y, z := int(xyz[0]), int(xyz[1]), int(xyz[2])
	if x < 0 || y < 0 || z < 0 {
		return 0
	}
	// OMEZarr.Sample shifts by the absolute level s starting at s0 =
	// log2(ds), so it expects an index already in full-resolution units
	// (matching original_source/src/zarr/ome.rs's outer get(), which
	// multiplies by downsampling before calling the inner, scale-shifting
	// get()) rather than a ds-downsampled one.
	return v.zarr.Sample(v.ctx, [3]int{z * ds, y * ds, x * ds}, ds)
}

func (v *OMEVolume) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	return SampleInterpolatedGeneric(v, xyz, ds)
}

func (v *OMEVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	v.zarr.PurgeMissing()
	PaintGeneric(v, center, axes, width, height, ds, paintZoom, out)
}
