package volumes

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ppmMaxW bounds the surface-normal extrusion distance accepted by
// PPMVolume.Sample, per spec.md §4.6.
const ppmMaxW = 45

// PPMFile is a memory-mapped per-pixel mapping: an ASCII "key: value"
// header terminated by a "<>\n" sentinel, followed by width*height
// records of 6 little-endian float64s (x,y,z,nx,ny,nz), grounded on
// original_source/src/volume/ppmvolume.rs's PPMFile.
type PPMFile struct {
	Width, Height int
	mapped        *mappedFile
}

// OpenPPMFile parses path's header and memory-maps its body.
func OpenPPMFile(path string) (*PPMFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make(map[string]string)
	reader := bufio.NewReader(f)
	terminated := false
	for {
		line, readErr := reader.ReadString('\n')
		if line == "<>\n" || line == "<>\r\n" {
			terminated = true
			break
		}
		if idx := strings.Index(line, ": "); idx >= 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+2:])
			header[key] = value
		}
		if readErr != nil {
			break
		}
	}
	if !terminated {
		return nil, fmt.Errorf("%s: %w: missing <> header terminator", path, ErrFormatMismatch)
	}
	bodyOffset, err := currentOffset(f, reader)
	if err != nil {
		return nil, err
	}

	width, err := strconv.Atoi(header["width"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: missing/invalid width header", path, ErrFormatMismatch)
	}
	height, err := strconv.Atoi(header["height"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: missing/invalid height header", path, ErrFormatMismatch)
	}

	mapped, err := mapFile(path, bodyOffset, 0)
	if err != nil {
		return nil, err
	}
	return &PPMFile{Width: width, Height: height, mapped: mapped}, nil
}

// currentOffset returns how far into f the bufio.Reader has actually
// consumed, accounting for its internal read-ahead buffer.
func currentOffset(f *os.File, r *bufio.Reader) (int64, error) {
	pos, err := f.Seek(0, 1)
	if err != nil {
		return 0, err
	}
	return pos - int64(r.Buffered()), nil
}

// Get returns the 6-float64 record (x,y,z,nx,ny,nz) at texel (u,v).
func (p *PPMFile) Get(u, v int) [6]float64 {
	data := p.mapped.Bytes()
	off := (v*p.Width + u) * 6 * 8
	var rec [6]float64
	if off < 0 || off+48 > len(data) {
		return rec
	}
	for i := 0; i < 6; i++ {
		rec[i] = math.Float64frombits(leUint64(data[off+i*8 : off+i*8+8]))
	}
	return rec
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Close releases the underlying memory mapping.
func (p *PPMFile) Close() error { return p.mapped.Close() }

// PPMVolume extrudes a per-pixel mapping along its surface normal and
// forwards the resulting world-space position to an inner Volume,
// grounded on original_source/src/volume/ppmvolume.rs's PPMVolume.
type PPMVolume struct {
	ppm         *PPMFile
	inner       Volume
	Interpolate bool
}

// NewPPMVolume wraps ppm around inner.
func NewPPMVolume(ppm *PPMFile, inner Volume) *PPMVolume {
	return &PPMVolume{ppm: ppm, inner: inner}
}

func bilerp6(r00, r10, r01, r11 [6]float64, du, dv float64) [6]float64 {
	var out [6]float64
	for i := 0; i < 6; i++ {
		out[i] = r00[i]*(1-du)*(1-dv) + r10[i]*du*(1-dv) + r01[i]*(1-du)*dv + r11[i]*du*dv
	}
	return out
}

// Sample implements Volume. uvw is (u,v,w): w is the extrusion distance
// along the surface normal; a sample with |w| beyond ppmMaxW returns 0, as
// does a zero-origin record
// (the PPM's "unmapped" sentinel) returns 0.
func (p *PPMVolume) Sample(uvw [3]float64, ds int) uint8 {
	u := int(uvw[0]) * ds
	v := int(uvw[1]) * ds
	w := int(uvw[2]) * ds

	if u <= 0 || u >= p.ppm.Width || v <= 0 || v >= p.ppm.Height || abs(w) > ppmMaxW {
		return 0
	}

	var rec [6]float64
	if p.Interpolate {
		u0 := math.Floor(uvw[0])
		v0 := math.Floor(uvw[1])
		du, dv := uvw[0]-u0, uvw[1]-v0
		r00 := p.ppm.Get(int(u0), int(v0))
		r10 := p.ppm.Get(int(u0)+1, int(v0))
		r01 := p.ppm.Get(int(u0), int(v0)+1)
		r11 := p.ppm.Get(int(u0)+1, int(v0)+1)
		rec = bilerp6(r00, r10, r01, r11, du, dv)
	} else {
		rec = p.ppm.Get(u, v)
	}

	if rec[0] == 0 && rec[1] == 0 && rec[2] == 0 {
		return 0
	}

	x := rec[0] + float64(w)*rec[3]
	y := rec[1] + float64(w)*rec[4]
	z := rec[2] + float64(w)*rec[5]

	return p.inner.Sample([3]float64{x / float64(ds), y / float64(ds), z / float64(ds)}, ds)
}

func (p *PPMVolume) SampleInterpolated(uvw [3]float64, ds int) uint8 {
	return SampleInterpolatedGeneric(p, uvw, ds)
}

func (p *PPMVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	PaintGeneric(p, center, axes, width, height, ds, paintZoom, out)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
