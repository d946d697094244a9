//go:build unix

package volumes

import (
	"os"
	"syscall"
)

// mmapFile memory-maps a file read-only. The fd can be closed after mapping.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return syscall.Mmap(int(fd), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
}

// munmapFile releases a memory mapping created by mmapFile.
func munmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return syscall.Munmap(data)
}

// mmapOffset maps [offset, offset+length) of f, handling the page-alignment
// syscall.Mmap requires by mapping from the containing page and returning
// both the raw mapping (needed by munmap) and the byte count to trim off
// its front.
func mmapOffset(f *os.File, offset, length int64) (raw []byte, lead int, err error) {
	pageSize := int64(os.Getpagesize())
	aligned := offset - offset%pageSize
	lead = int(offset - aligned)
	raw, err = syscall.Mmap(int(f.Fd()), aligned, lead+int(length), syscall.PROT_READ, syscall.MAP_SHARED)
	return raw, lead, err
}
