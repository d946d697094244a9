//go:build !unix

package volumes

import "os"

// mmapFile falls back to a plain read on platforms without an mmap syscall.
// Tile bytes are immutable after loading either way, so a copy is harmless.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	f := os.NewFile(fd, "")
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// munmapFile is a no-op for the plain-read fallback.
func munmapFile(data []byte) error {
	return nil
}

// mmapOffset falls back to a plain read of [offset, offset+length).
func mmapOffset(f *os.File, offset, length int64) (raw []byte, lead int, err error) {
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, 0, err
	}
	return buf, 0, nil
}
