package localfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
)

// ListOptions configures the behavior of List.
type ListOptions struct {
	// HideDotFiles excludes names starting with ".". System files are
	// always excluded.
	HideDotFiles bool
}

// List returns the contents of a local directory as listing rows with
// millisecond modification times. An empty path lists the drive roots on
// Windows and the home directory elsewhere; the second result is the
// directory that was actually listed ("" for the drive list).
func List(path string, opts ListOptions) ([]remote.Entry, string, error) {
	if path == "" {
		if runtime.GOOS == "windows" {
			drives, err := Drives()
			return drives, "", err
		}
		home, err := pathutil.ExpandHome("~")
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = home
	}
	path = pathutil.NormalizeLocal(path)
	if runtime.GOOS == "windows" && !isDriveRooted(path) {
		return nil, path, fmt.Errorf("Invalid Windows path format: %s", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, path, remote.Wrap("list", path, err)
	}

	result := make([]remote.Entry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if IsSystemFile(name) {
			continue
		}
		if opts.HideDotFiles && IsHiddenName(name) {
			continue
		}

		// Follow links so a link to a directory lists as one.
		info, err := os.Stat(filepath.Join(path, name))
		if err != nil {
			// Skip entries we can't stat (permission issues, broken links)
			continue
		}

		result = append(result, remote.Entry{
			Name:       name,
			IsDir:      info.IsDir(),
			Size:       info.Size(),
			ModifyTime: info.ModTime().UnixMilli(),
		})
	}

	return result, path, nil
}

func isDriveRooted(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}

// TreeStats summarizes a set of local paths.
type TreeStats struct {
	Files       int
	Directories int
	Bytes       int64
}

// Measure walks each path and totals the regular files beneath it.
// Unreadable entries are skipped.
func Measure(paths []string) (TreeStats, error) {
	var stats TreeStats
	for _, root := range paths {
		root = pathutil.NormalizeLocal(root)
		if _, err := os.Stat(root); err != nil {
			return stats, remote.Wrap("stat", root, err)
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				stats.Directories++
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil
			}
			stats.Files++
			stats.Bytes += info.Size()
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}
