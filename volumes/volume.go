// Package volumes implements the tiled volume access layer: a
// multi-resolution, on-demand, network-backed, memory-mapped cache that
// serves voxel reads and planar slice renders from chunked storage formats.
package volumes

import "math"

// Quality names a downsampling level and the bit mask applied when the
// Block64 backend fetches or reads a tile. DownsamplingFactor is always a
// power of two in {1,2,4,8,16}.
type Quality struct {
	DownsamplingFactor uint8
	BitMask            uint8
}

// FullQuality is the unfiltered, full-resolution quality level.
var FullQuality = Quality{DownsamplingFactor: 1, BitMask: 0xff}

// DrawingConfig selects the optional intensity filters Paint applies to
// each sampled voxel before writing it to the output image.
type DrawingConfig struct {
	FiltersActive bool
	ThresholdMin  uint8
	ThresholdMax  uint8
	Mask          uint8
}

// Filter applies the threshold window followed by the bit mask, matching
// the original_source/src/volume/volume64x4.rs paint() filter pipeline.
func (c DrawingConfig) Filter(value uint8) uint8 {
	if !c.FiltersActive {
		return value
	}
	span := 255 - int(c.ThresholdMin) - int(c.ThresholdMax)
	if span <= 0 {
		span = 1
	}
	contrasted := (int(value) - int(c.ThresholdMin)) * 255 / span
	if contrasted < 0 {
		contrasted = 0
	}
	if contrasted > 255 {
		contrasted = 255
	}
	masked := uint8(contrasted) & c.Mask
	return uint8(float64(masked) / float64(c.Mask) * 255.0)
}

// Image is the output of a Paint call: a width*height grayscale (or RGB,
// via SetRGB) pixel buffer owned by the caller.
type Image struct {
	Width, Height int
	Gray          []uint8 // len == Width*Height, used unless RGB is set
	RGB           []uint8 // len == Width*Height*3, set by RGB-producing volumes
}

// NewGrayImage allocates a zeroed grayscale output buffer.
func NewGrayImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Gray: make([]uint8, width*height)}
}

// NewRGBImage allocates a zeroed RGB output buffer.
func NewRGBImage(width, height int) *Image {
	return &Image{Width: width, Height: height, RGB: make([]uint8, width*height*3)}
}

// SetGray writes a single grayscale pixel. Out-of-bounds writes are ignored.
func (img *Image) SetGray(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height || img.Gray == nil {
		return
	}
	img.Gray[y*img.Width+x] = v
}

// SetRGB writes a single RGB pixel. Out-of-bounds writes are ignored.
func (img *Image) SetRGB(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height || img.RGB == nil {
		return
	}
	off := (y*img.Width + x) * 3
	img.RGB[off], img.RGB[off+1], img.RGB[off+2] = r, g, b
}

// Axes names the three world axes a Paint call steps across: u_axis and
// v_axis sweep the output image, plane_axis is held fixed at Center[plane_axis].
type Axes struct {
	U, V, Plane int
}

// Volume is the uniform contract every backend and composer satisfies, per
// spec.md §4.1. Implementations must be total: out-of-bounds, unmapped, and
// pending reads return 0 rather than an error.
type Volume interface {
	// Sample returns the voxel intensity at world coordinate xyz, read at
	// downsampling level ds.
	Sample(xyz [3]float64, ds int) uint8
	// SampleInterpolated trilinearly interpolates the eight neighbouring
	// samples around xyz.
	SampleInterpolated(xyz [3]float64, ds int) uint8
	// Paint writes a width*height image of the plane through center,
	// stepping paintZoom screen pixels (== paintZoom*ds world units) per
	// output pixel.
	Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image)
}

// VoxelVolume wraps a point sampler. It has no methods of its own and no
// backend embeds it; the default Paint and SampleInterpolated bodies are the
// free functions PaintGeneric and SampleInterpolatedGeneric, which backends
// call from their own methods, mirroring
// original_source/src/volume/generic.rs's blanket impl and
// original_source/src/volume/interpolated.rs's TrilinearInterpolatedVolume.
type VoxelVolume struct {
	Sampler interface {
		Sample(xyz [3]float64, ds int) uint8
	}
}

// SampleInterpolatedGeneric performs generic trilinear interpolation via eight
// independent Sample calls. Backends needing the single-tile fast path
// override this (see Block64.SampleInterpolated).
func SampleInterpolatedGeneric(v interface {
	Sample(xyz [3]float64, ds int) uint8
}, xyz [3]float64, ds int) uint8 {
	x0, dx := math.Floor(xyz[0]), xyz[0]-math.Floor(xyz[0])
	y0, dy := math.Floor(xyz[1]), xyz[1]-math.Floor(xyz[1])
	z0, dz := math.Floor(xyz[2]), xyz[2]-math.Floor(xyz[2])
	x1, y1, z1 := x0+1, y0+1, z0+1

	p := func(x, y, z float64) float64 { return float64(v.Sample([3]float64{x, y, z}, ds)) }

	c00 := p(x0, y0, z0)*(1-dx) + p(x1, y0, z0)*dx
	c10 := p(x0, y1, z0)*(1-dx) + p(x1, y1, z0)*dx
	c01 := p(x0, y0, z1)*(1-dx) + p(x1, y0, z1)*dx
	c11 := p(x0, y1, z1)*(1-dx) + p(x1, y1, z1)*dx

	c0 := c00*(1-dy) + c10*dy
	c1 := c01*(1-dy) + c11*dy

	return uint8(c0*(1-dz) + c1*dz)
}

// PaintGeneric is the default Paint: loop every output pixel and delegate
// to Sample, matching original_source/src/volume/generic.rs.
func PaintGeneric(v Volume, center [3]int32, axes Axes, width, height, ds int, paintZoom int, out *Image) {
	for imV := 0; imV < height; imV++ {
		for imU := 0; imU < width; imU++ {
			relU := (imU - width/2) * paintZoom
			relV := (imV - height/2) * paintZoom

			var uvw [3]float64
			uvw[axes.U] = float64(int(center[axes.U]) + relU)
			uvw[axes.V] = float64(int(center[axes.V]) + relV)
			uvw[axes.Plane] = float64(center[axes.Plane])

			out.SetGray(imU, imV, v.Sample(uvw, ds))
		}
	}
}
