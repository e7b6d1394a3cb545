// Package diskspace checks free space on the volume that will receive a
// download before any bytes are written.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// usage is swapped in tests.
var usage = func(path string) (uint64, error) {
	st, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return st.Free, nil
}

// CheckAvailableSpace checks that the volume holding targetDir has room
// for requiredBytes plus bufferPercent (0.05 = 5%). When free space cannot
// be determined the check passes and the copy fails naturally if needed.
func CheckAvailableSpace(targetDir string, requiredBytes int64, bufferPercent float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	free, err := usage(existingAncestor(targetDir))
	if err != nil {
		return nil
	}

	requiredWithBuffer := int64(float64(requiredBytes) * (1 + bufferPercent))
	if int64(free) < requiredWithBuffer {
		return &InsufficientSpaceError{
			Path:           targetDir,
			RequiredBytes:  requiredWithBuffer,
			AvailableBytes: int64(free),
		}
	}
	return nil
}

// GetAvailableSpace returns the free bytes on the volume holding path, or
// 0 if unknown.
func GetAvailableSpace(path string) int64 {
	free, err := usage(existingAncestor(path))
	if err != nil {
		return 0
	}
	return int64(free)
}

// existingAncestor walks up from path to the first directory that exists.
func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}
