// Package localfs implements the local side of the explorer: listing,
// drive enumeration, and folder, delete and rename operations.
package localfs

import (
	"path/filepath"
	"strings"
)

// systemFiles are never shown in a local listing.
var systemFiles = map[string]bool{
	"hiberfil.sys":              true,
	"pagefile.sys":              true,
	"swapfile.sys":              true,
	"Recovery":                  true,
	"System Volume Information": true,
	"DumpStack.log":             true,
}

// IsSystemFile reports whether name is an OS-managed entry hidden from listings.
func IsSystemFile(name string) bool {
	return systemFiles[name]
}

// IsHidden returns true if the file or directory at the given path is hidden.
// On Unix systems, this checks if the base name starts with a dot.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName returns true if the given filename (not path) represents a hidden file.
// Special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
