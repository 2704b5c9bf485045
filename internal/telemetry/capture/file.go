// Package capture loads raw LEXI telemetry captures into memory. A capture
// is a plain concatenation of frames and slip bytes; every source here
// produces the same byte buffer for the pipeline.
package capture

import (
	"fmt"

	"github.com/banshee-data/lexi.report/internal/fsutil"
)

// DefaultMaxBytes caps a single capture at 1 GiB.
const DefaultMaxBytes int64 = 1 << 30

// LoadFile reads a raw capture file through fsys. maxBytes <= 0 uses
// DefaultMaxBytes.
func LoadFile(fsys fsutil.FileSystem, path string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := fsutil.ReadFileLimit(fsys, path, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("load capture: %w", err)
	}
	return data, nil
}
