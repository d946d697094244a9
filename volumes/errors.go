package volumes

import "errors"

// ErrFormatMismatch marks a parsed file or chunk whose bytes don't match
// the format it claims to be: wrong tile length, malformed Blosc header, a
// Zarr chunk that decompresses to the wrong size. Per spec.md §7 these are
// logged and the affected key is treated as Missing; the error itself
// never crosses a Volume's Sample/SampleInterpolated/Paint methods, which
// are total functions over their inputs.
var ErrFormatMismatch = errors.New("format mismatch")

// ErrChunkNotFound marks a Zarr/OME-Zarr chunk confirmed absent on the
// backend, distinct from ErrFormatMismatch (corrupt) and a transient I/O
// failure (retryable).
var ErrChunkNotFound = errors.New("chunk not found")
