package volumes

import (
	"fmt"
	"os"
)

// mappedFile is a read-only memory mapping of a file, grounded on
// pspoerri-geotiff2pmtiles/internal/cog.Reader's mmap-then-parse idiom.
type mappedFile struct {
	raw  []byte // the region munmap must release; nil if not owned (plain-read fallback)
	data []byte // the requested [offset, offset+length) view
}

// mapFile opens path and maps it read-only starting at offset. A length of
// 0 maps through to the end of the file, and an offset past the end is then
// an error; an explicit length is not checked against the file size.
func mapFile(path string, offset int64, length int64) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if length == 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		length = fi.Size() - offset
	}
	if length < 0 {
		return nil, fmt.Errorf("%s: offset %d beyond file size", path, offset)
	}

	if offset == 0 {
		data, err := mmapFile(f.Fd(), int(length))
		if err != nil {
			return nil, err
		}
		return &mappedFile{raw: data, data: data}, nil
	}

	// Mapping at a non-zero offset (PPM bodies) needs a page-aligned mmap
	// followed by a slice; the plain-read fallback just seeks instead.
	raw, lead, err := mmapOffset(f, offset, length)
	if err != nil {
		return nil, err
	}
	return &mappedFile{raw: raw, data: raw[lead : lead+int(length)]}, nil
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Close() error {
	if m.raw == nil {
		return nil
	}
	err := munmapFile(m.raw)
	m.raw, m.data = nil, nil
	return err
}
