//go:build !windows

package localfs

import (
	"github.com/houzin/scp-explorer/internal/remote"
)

// Drives returns nil; only Windows has drive roots.
func Drives() ([]remote.Entry, error) {
	return nil, nil
}
