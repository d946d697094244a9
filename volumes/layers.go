package volumes

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

var layerFileRe = regexp.MustCompile(`(\d{5})\.tif$`)

// layer is one memory-mapped Z slice: a flat row-major 16-bit grayscale
// strip, mapped starting right at its TIFF strip offset so Layer.get can
// index the raw bytes directly.
type layer struct {
	mapped *mappedFile
	width  int
	height int
}

// get returns the high byte of the little-endian 16-bit sample at (x,y),
// matching original_source/src/volume/layers.rs's Layer::get (the scans
// are stored as 16-bit but only the upper 8 bits carry useful contrast).
func (l *layer) get(x, y int) uint8 {
	off := (y*l.width + x) * 2
	data := l.mapped.Bytes()
	if off+1 >= len(data) {
		return 0
	}
	return data[off+1]
}

// LayersMappedVolume serves a volume stored as one 16-bit grayscale TIFF
// per Z slice, named "<dataDir>/<z:05>.tif", grounded on
// original_source/src/volume/layers.rs's LayersMappedVolume.
type LayersMappedVolume struct {
	maxX, maxY, maxZ int
	layers           []*layer // indexed by z; nil entries are missing slices
}

// OpenLayersMappedVolume scans dataDir for "<z:05>.tif" files, mmaps each
// one starting at its first TIFF strip offset, and returns a volume sized
// to the minimum width/height found and the highest Z discovered.
func OpenLayersMappedVolume(dataDir string) (*LayersMappedVolume, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dataDir, err)
	}

	maxZ := 0
	for _, e := range entries {
		m := layerFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		z, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if z > maxZ {
			maxZ = z
		}
	}

	layers := make([]*layer, maxZ+1)
	minWidth, minHeight := -1, -1
	for z := 0; z <= maxZ; z++ {
		path := fmt.Sprintf("%s/%05d.tif", dataDir, z)
		l, err := openLayer(path)
		if err != nil {
			continue
		}
		layers[z] = l
		if minWidth < 0 || l.width < minWidth {
			minWidth = l.width
		}
		if minHeight < 0 || l.height < minHeight {
			minHeight = l.height
		}
	}
	if minWidth < 0 {
		minWidth, minHeight = 0, 0
	}

	return &LayersMappedVolume{
		maxX:   minWidth - 1,
		maxY:   minHeight - 1,
		maxZ:   maxZ,
		layers: layers,
	}, nil
}

func openLayer(path string) (*layer, error) {
	info, err := readTIFFStripInfo(path)
	if err != nil {
		return nil, err
	}
	if info.BitsPerSample != 16 {
		return nil, fmt.Errorf("%s: %w: expected 16 bits per sample, got %d", path, ErrFormatMismatch, info.BitsPerSample)
	}
	mapped, err := mapFile(path, int64(info.StripOffset), 0)
	if err != nil {
		return nil, err
	}
	return &layer{mapped: mapped, width: int(info.Width), height: int(info.Height)}, nil
}

// Sample implements Volume. downsampling scales the query up to full
// resolution before indexing, matching the Rust get()'s
// "xyz * downsampling" convention: these backends carry only one, full
// resolution copy of the data, so coarser downsampling levels resample
// from the same layers rather than reading a dedicated coarse tile.
func (v *LayersMappedVolume) Sample(xyz [3]float64, ds int) uint8 {
	x := int(xyz[0]) * ds
	y := int(xyz[1]) * ds
	z := int(xyz[2]) * ds
	if x < 0 || y < 0 || z < 0 || x > v.maxX || y > v.maxY || z > v.maxZ {
		return 0
	}
	l := v.layers[z]
	if l == nil {
		return 0
	}
	return l.get(x, y)
}

func (v *LayersMappedVolume) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	return SampleInterpolatedGeneric(v, xyz, ds)
}

func (v *LayersMappedVolume) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	PaintGeneric(v, center, axes, width, height, ds, paintZoom, out)
}

// Close releases every mapped layer's memory mapping.
func (v *LayersMappedVolume) Close() error {
	var firstErr error
	for _, l := range v.layers {
		if l == nil {
			continue
		}
		if err := l.mapped.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
