package volumes

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress is an active progress tracker, grounded on
// pmtiles/progress.go's Progress interface, narrowed to the single
// count-based use this module has (prefetching N tiles) rather than the
// teacher's count/bytes dual interface.
type Progress interface {
	io.Writer
	Add(n int)
	Close() error
}

// NewPrefetchProgress returns a terminal progress bar for a prefetch run
// of total tiles, or a no-op tracker when quiet is true.
func NewPrefetchProgress(total int64, description string, quiet bool) Progress {
	if quiet {
		return quietProgress{}
	}
	return progressBarWrapper{bar: progressbar.Default(total, description)}
}

// progressBarWrapper adapts schollz/progressbar to Progress, matching
// pmtiles/progress.go's progressBarWrapper.
type progressBarWrapper struct {
	bar *progressbar.ProgressBar
}

func (p progressBarWrapper) Write(data []byte) (int, error) { return p.bar.Write(data) }
func (p progressBarWrapper) Add(n int)                       { p.bar.Add(n) }
func (p progressBarWrapper) Close() error                    { return p.bar.Close() }

// quietProgress is a no-op Progress, used when the caller suppresses
// terminal output (e.g. non-interactive backfill jobs).
type quietProgress struct{}

func (quietProgress) Write(data []byte) (int, error) { return len(data), nil }
func (quietProgress) Add(int)                        {}
func (quietProgress) Close() error                   { return nil }
