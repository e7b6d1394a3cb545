package pathutil

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) (string, error) {
	return homedir.Expand(path)
}

// ResolveAbsolutePath converts a local path to an absolute path.
// Symlinks are resolved in the existing portion of the path and any
// non-existent components are appended unchanged, so a download target
// that does not exist yet still resolves under a linked parent.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	// Find the deepest existing ancestor
	current := absPath
	var remainder []string

	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
