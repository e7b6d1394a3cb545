package localfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/houzin/scp-explorer/internal/pathutil"
	"github.com/houzin/scp-explorer/internal/remote"
	"github.com/houzin/scp-explorer/internal/validation"
)

// CreateFolder creates folderName inside parent and returns the new path.
// An existing entry of any type is a conflict.
func CreateFolder(parent, folderName string) (string, error) {
	name, err := validation.CleanFolderName(folderName)
	if err != nil {
		return "", remote.ConfigErrorf("Invalid folder name: %v", err)
	}
	full := filepath.Join(pathutil.NormalizeLocal(parent), name)

	if _, err := os.Lstat(full); err == nil {
		return "", remote.Conflictf("mkdir", full, "Folder creation failed: Path already exists")
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", remote.Wrap("mkdir", full, err)
	}
	return full, nil
}

// Delete removes a file, or a directory tree when isDir is set.
func Delete(path string, isDir bool) error {
	path = pathutil.NormalizeLocal(path)
	info, err := os.Lstat(path)
	if err != nil {
		return remote.Wrap("delete", path, err)
	}
	if isDir {
		if !info.IsDir() {
			return remote.NewError(remote.KindFatal, "delete", path, fmt.Errorf("not a directory"))
		}
		if err := os.RemoveAll(path); err != nil {
			return remote.Wrap("delete", path, err)
		}
		return nil
	}
	if info.IsDir() {
		return remote.NewError(remote.KindFatal, "delete", path, fmt.Errorf("is a directory"))
	}
	if err := os.Remove(path); err != nil {
		return remote.Wrap("delete", path, err)
	}
	return nil
}

// Rename moves oldPath to newPath. It never overwrites: an existing
// newPath is a conflict and neither path is touched.
func Rename(oldPath, newPath string) error {
	oldPath = pathutil.NormalizeLocal(oldPath)
	newPath = pathutil.NormalizeLocal(newPath)

	if _, err := os.Lstat(newPath); err == nil {
		return remote.Conflictf("rename", newPath, "A file or directory already exists at the target path: %s", newPath)
	} else if !os.IsNotExist(err) {
		return remote.Wrap("rename", newPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return remote.Wrap("rename", oldPath, err)
	}
	return nil
}
