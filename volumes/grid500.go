package volumes

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

var cellFileRe = regexp.MustCompile(`cell_yxz_(\d+)_(\d+)_(\d+)\.tif$`)

// gridCellSide is the fixed edge length of a VolumeGrid500Mapped cell.
const gridCellSide = 500

// gridCellStripSpacing is the per-Z-slice byte stride within a cell file,
// grounded on original_source/src/volume/grid500.rs's Cell::strip_spacing
// constant (500*500*2 payload bytes plus fixed per-slice TIFF strip
// overhead baked into these scan exports).
const gridCellStripSpacing = 500147

// gridCellHeaderSize is the fixed byte offset at which the first strip's
// pixel data begins in these cell exports (the Rust loader mmaps with a
// constant offset=8 rather than parsing TIFF tags, since cell files are
// produced by one fixed pipeline and never vary in layout).
const gridCellHeaderSize = 8

// gridCell is one memory-mapped 500x500x500 cell file.
type gridCell struct {
	mapped *mappedFile
}

// get returns the high byte of the little-endian 16-bit sample at (x,y,z)
// within the cell, matching original_source/src/volume/grid500.rs's
// Cell::get.
func (c *gridCell) get(x, y, z int) uint8 {
	off := gridCellStripSpacing*z + (y*gridCellSide+x)*2
	data := c.mapped.Bytes()
	if off+1 >= len(data) {
		return 0
	}
	return data[off+1]
}

// VolumeGrid500Mapped serves a volume stored as a 3-D grid of 500-voxel
// cubed TIFF cell files named "cell_yxz_<y>_<x>_<z>.tif", grounded on
// original_source/src/volume/grid500.rs's VolumeGrid500Mapped.
type VolumeGrid500Mapped struct {
	maxX, maxY, maxZ int
	cells            [][][]*gridCell // indexed [z][y][x], 0-based after the 1-based file numbering is shifted down
}

// OpenVolumeGrid500Mapped scans dataDir for cell files, mmaps each present
// cell at a fixed 8-byte offset, and returns a volume covering 1..max in
// each file-numbered axis (re-based to 0..max-1 for Sample lookups).
func OpenVolumeGrid500Mapped(dataDir string) (*VolumeGrid500Mapped, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dataDir, err)
	}

	maxX, maxY, maxZ := 0, 0, 0
	for _, e := range entries {
		m := cellFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		y, _ := strconv.Atoi(m[1])
		x, _ := strconv.Atoi(m[2])
		z, _ := strconv.Atoi(m[3])
		if x > maxX {
			maxX = x
		}
		if y > maxY {
			maxY = y
		}
		if z > maxZ {
			maxZ = z
		}
	}
	if maxX == 0 || maxY == 0 || maxZ == 0 {
		return &VolumeGrid500Mapped{maxX: -1, maxY: -1, maxZ: -1}, nil
	}

	cells := make([][][]*gridCell, maxZ)
	for z := 0; z < maxZ; z++ {
		cells[z] = make([][]*gridCell, maxY)
		for y := 0; y < maxY; y++ {
			cells[z][y] = make([]*gridCell, maxX)
			for x := 0; x < maxX; x++ {
				path := fmt.Sprintf("%s/cell_yxz_%03d_%03d_%03d.tif", dataDir, y+1, x+1, z+1)
				c, err := openGridCell(path)
				if err != nil {
					continue
				}
				cells[z][y][x] = c
			}
		}
	}

	return &VolumeGrid500Mapped{
		maxX:  maxX - 1,
		maxY:  maxY - 1,
		maxZ:  maxZ - 1,
		cells: cells,
	}, nil
}

func openGridCell(path string) (*gridCell, error) {
	mapped, err := mapFile(path, gridCellHeaderSize, 0)
	if err != nil {
		return nil, err
	}
	return &gridCell{mapped: mapped}, nil
}

// Sample implements Volume. As in LayersMappedVolume, a single
// full-resolution copy backs every downsampling level; ds scales the
// query up before indexing.
func (v *VolumeGrid500Mapped) Sample(xyz [3]float64, ds int) uint8 {
	x := int(xyz[0]) * ds
	y := int(xyz[1]) * ds
	z := int(xyz[2]) * ds
	if x < 0 || y < 0 || z < 0 {
		return 0
	}
	xTile, yTile, zTile := x/gridCellSide, y/gridCellSide, z/gridCellSide
	if xTile > v.maxX || yTile > v.maxY || zTile > v.maxZ {
		return 0
	}
	cell := v.cells[zTile][yTile][xTile]
	if cell == nil {
		return 0
	}
	return cell.get(x%gridCellSide, y%gridCellSide, z%gridCellSide)
}

func (v *VolumeGrid500Mapped) SampleInterpolated(xyz [3]float64, ds int) uint8 {
	return SampleInterpolatedGeneric(v, xyz, ds)
}

func (v *VolumeGrid500Mapped) Paint(center [3]int32, axes Axes, width, height, ds int, paintZoom int, cfg DrawingConfig, out *Image) {
	PaintGeneric(v, center, axes, width, height, ds, paintZoom, out)
}

// Close releases every mapped cell's memory mapping.
func (v *VolumeGrid500Mapped) Close() error {
	var firstErr error
	for _, plane := range v.cells {
		for _, row := range plane {
			for _, c := range row {
				if c == nil {
					continue
				}
				if err := c.mapped.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
