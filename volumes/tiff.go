package volumes

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Minimal classic-TIFF tag IDs, grounded on
// pspoerri-geotiff2pmtiles/internal/cog/ifd.go's tag table, narrowed to the
// tags layers.go actually needs (strip-based single-IFD
// grayscale scans, never tiled, never BigTIFF).
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagSamplesPerPixel = 277
	tagStripOffsets    = 273
)

const (
	tiffByte  = 1
	tiffASCII = 2
	tiffShort = 3
	tiffLong  = 4
)

// tiffStripInfo is the subset of a TIFF IFD's first-strip geometry that a
// flat 16-bit grayscale scan slice needs.
type tiffStripInfo struct {
	Width         uint32
	Height        uint32
	BitsPerSample uint16
	StripOffset   uint32
}

type tiffEntryRaw struct {
	Tag      uint16
	DataType uint16
	Count    uint32
	Value    []byte
}

// readTIFFStripInfo parses the first IFD of a classic (non-BigTIFF) TIFF
// file and returns its width/height/bit-depth and the byte offset of its
// first (and, for these single-strip scans, only) strip. Grounded on
// pspoerri-geotiff2pmtiles/internal/cog/ifd.go's parseTIFF/parseOneIFD,
// narrowed to a single IFD and the tags layers.rs/grid500.rs's Rust
// "tiff" crate usage actually reads.
func readTIFFStripInfo(path string) (tiffStripInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return tiffStripInfo{}, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return tiffStripInfo{}, fmt.Errorf("%s: reading TIFF header: %w", path, err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return tiffStripInfo{}, fmt.Errorf("%s: %w: invalid TIFF byte order %x", path, ErrFormatMismatch, header[0:2])
	}
	if magic := bo.Uint16(header[2:4]); magic != 42 {
		return tiffStripInfo{}, fmt.Errorf("%s: %w: not a classic TIFF (magic %d)", path, ErrFormatMismatch, magic)
	}

	ifdOffset := int64(bo.Uint32(header[4:8]))
	if _, err := f.Seek(ifdOffset, io.SeekStart); err != nil {
		return tiffStripInfo{}, err
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return tiffStripInfo{}, err
	}
	numEntries := int(bo.Uint16(countBuf[:]))

	entries := make([]tiffEntryRaw, numEntries)
	for i := 0; i < numEntries; i++ {
		var buf [12]byte
		if _, err := io.ReadFull(f, buf[:]); err != nil {
			return tiffStripInfo{}, err
		}
		entries[i] = tiffEntryRaw{
			Tag:      bo.Uint16(buf[0:2]),
			DataType: bo.Uint16(buf[2:4]),
			Count:    bo.Uint32(buf[4:8]),
			Value:    append([]byte(nil), buf[8:12]...),
		}
	}

	for i := range entries {
		if err := resolveTIFFEntry(f, bo, &entries[i]); err != nil {
			return tiffStripInfo{}, fmt.Errorf("%s: resolving tag %d: %w", path, entries[i].Tag, err)
		}
	}

	var info tiffStripInfo
	var stripOffsets []uint32
	var samplesPerPixel uint16 = 1
	var compression uint16 = 1
	for _, e := range entries {
		switch e.Tag {
		case tagImageWidth:
			info.Width = tiffUint32(e, bo)
		case tagImageLength:
			info.Height = tiffUint32(e, bo)
		case tagBitsPerSample:
			info.BitsPerSample = tiffUint16(e, bo)
		case tagSamplesPerPixel:
			samplesPerPixel = tiffUint16(e, bo)
		case tagCompression:
			compression = tiffUint16(e, bo)
		case tagStripOffsets:
			stripOffsets = tiffUint32Slice(e, bo)
		}
	}

	if compression != 1 {
		return tiffStripInfo{}, fmt.Errorf("%s: %w: unsupported TIFF compression %d", path, ErrFormatMismatch, compression)
	}
	if samplesPerPixel != 1 {
		return tiffStripInfo{}, fmt.Errorf("%s: %w: expected 1 sample per pixel, got %d", path, ErrFormatMismatch, samplesPerPixel)
	}
	if len(stripOffsets) != 1 {
		return tiffStripInfo{}, fmt.Errorf("%s: %w: expected exactly 1 strip, got %d", path, ErrFormatMismatch, len(stripOffsets))
	}
	info.StripOffset = stripOffsets[0]
	return info, nil
}

func tiffDataTypeSize(dt uint16) int {
	switch dt {
	case tiffByte, tiffASCII:
		return 1
	case tiffShort:
		return 2
	case tiffLong:
		return 4
	default:
		return 1
	}
}

func resolveTIFFEntry(f *os.File, bo binary.ByteOrder, e *tiffEntryRaw) error {
	total := int(e.Count) * tiffDataTypeSize(e.DataType)
	if total <= 4 {
		return nil
	}
	offset := int64(bo.Uint32(e.Value))
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, total)
	if _, err := io.ReadFull(f, data); err != nil {
		return err
	}
	e.Value = data
	return nil
}

func tiffUint16(e tiffEntryRaw, bo binary.ByteOrder) uint16 {
	switch e.DataType {
	case tiffShort:
		return bo.Uint16(e.Value)
	case tiffLong:
		return uint16(bo.Uint32(e.Value))
	default:
		return uint16(e.Value[0])
	}
}

func tiffUint32(e tiffEntryRaw, bo binary.ByteOrder) uint32 {
	switch e.DataType {
	case tiffShort:
		return uint32(bo.Uint16(e.Value))
	case tiffLong:
		return bo.Uint32(e.Value)
	default:
		return uint32(e.Value[0])
	}
}

func tiffUint32Slice(e tiffEntryRaw, bo binary.ByteOrder) []uint32 {
	n := int(e.Count)
	out := make([]uint32, n)
	switch e.DataType {
	case tiffShort:
		for i := 0; i < n; i++ {
			out[i] = uint32(bo.Uint16(e.Value[i*2 : i*2+2]))
		}
	case tiffLong:
		for i := 0; i < n; i++ {
			out[i] = bo.Uint32(e.Value[i*4 : i*4+4])
		}
	default:
		for i := 0; i < n; i++ {
			out[i] = uint32(e.Value[i])
		}
	}
	return out
}
