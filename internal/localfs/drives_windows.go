//go:build windows

package localfs

import (
	"fmt"
	"time"

	"golang.org/x/sys/windows"

	"github.com/houzin/scp-explorer/internal/remote"
)

// Drives lists the logical drive roots, e.g. "C:".
func Drives() ([]remote.Entry, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate drives: %w", err)
	}
	now := time.Now().UnixMilli()
	var drives []remote.Entry
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		drives = append(drives, remote.Entry{
			Name:       string(rune('A'+i)) + ":",
			IsDir:      true,
			ModifyTime: now,
		})
	}
	return drives, nil
}
