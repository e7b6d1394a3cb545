package localfs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/houzin/scp-explorer/internal/remote"
)

func TestIsHiddenName(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"..", false}, // Parent dir reference starts with . but is special
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHiddenName(tt.name); got != tt.expected {
				t.Errorf("IsHiddenName(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestIsSystemFile(t *testing.T) {
	for _, name := range []string{"pagefile.sys", "System Volume Information", "DumpStack.log"} {
		if !IsSystemFile(name) {
			t.Errorf("%q should be a system file", name)
		}
	}
	if IsSystemFile("notes.txt") {
		t.Error("notes.txt is not a system file")
	}
}

func TestList(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX temp paths")
	}
	dir := t.TempDir()
	for _, f := range []string{"visible.txt", ".hidden", "pagefile.sys"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("test"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("system files excluded", func(t *testing.T) {
		entries, actual, err := List(dir, ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if actual != dir {
			t.Errorf("actual path = %q, want %q", actual, dir)
		}
		if len(entries) != 3 {
			t.Fatalf("got %d entries, want 3", len(entries))
		}
		for _, e := range entries {
			if e.Name == "pagefile.sys" {
				t.Error("system file should be excluded")
			}
			if e.Name == "subdir" && !e.IsDir {
				t.Error("subdir should be a directory")
			}
			if e.Name == "visible.txt" && e.Size != 4 {
				t.Errorf("visible.txt size = %d, want 4", e.Size)
			}
			if e.ModifyTime < 1e12 {
				t.Errorf("modifyTime %d is not in milliseconds", e.ModifyTime)
			}
		}
	})

	t.Run("dot files hidden on request", func(t *testing.T) {
		entries, _, err := List(dir, ListOptions{HideDotFiles: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Errorf("got %d entries, want 2", len(entries))
		}
	})

	t.Run("nonexistent directory", func(t *testing.T) {
		_, _, err := List(filepath.Join(dir, "missing"), ListOptions{})
		if !remote.IsNotFound(err) {
			t.Errorf("expected not-found, got %v", err)
		}
	})
}

func TestCreateFolder(t *testing.T) {
	dir := t.TempDir()

	full, err := CreateFolder(dir, "/reports/")
	if err != nil {
		t.Fatal(err)
	}
	if full != filepath.Join(dir, "reports") {
		t.Errorf("created %q", full)
	}
	if info, err := os.Stat(full); err != nil || !info.IsDir() {
		t.Fatalf("folder not created: %v", err)
	}

	_, err = CreateFolder(dir, "reports")
	if !remote.IsWarning(err) {
		t.Errorf("expected warning for existing folder, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = CreateFolder(dir, "notes")
	if !remote.IsConflict(err) {
		t.Errorf("expected conflict for existing file, got %v", err)
	}

	_, err = CreateFolder(dir, "..")
	if remote.KindOf(err) != remote.KindConfig {
		t.Errorf("expected config error for '..', got %v", err)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(tree, "a", "b", "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Delete(tree, false); err == nil {
		t.Error("deleting a directory as a file should fail")
	}
	if err := Delete(file, true); err == nil {
		t.Error("deleting a file as a directory should fail")
	}
	if err := Delete(file, false); err != nil {
		t.Fatal(err)
	}
	if err := Delete(tree, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Error("tree should be gone")
	}
	if err := Delete(tree, true); !remote.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Rename(a, b)
	if !remote.IsWarning(err) {
		t.Fatalf("expected warning, got %v", err)
	}
	// Neither side changed.
	if data, _ := os.ReadFile(a); string(data) != "a" {
		t.Error("source was modified")
	}
	if data, _ := os.ReadFile(b); string(data) != "b" {
		t.Error("target was modified")
	}

	c := filepath.Join(dir, "c.txt")
	if err := Rename(a, c); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c); err != nil {
		t.Error("renamed file missing")
	}
}

func TestMeasure(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "one.txt"), []byte("1"), 0o644)
	os.WriteFile(filepath.Join(dir, "sub", "two.txt"), []byte("22"), 0o644)
	single := filepath.Join(t.TempDir(), "solo.bin")
	os.WriteFile(single, []byte("333"), 0o644)

	stats, err := Measure([]string{dir, single})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 3 || stats.Bytes != 6 || stats.Directories != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if _, err := Measure([]string{filepath.Join(dir, "nope")}); err == nil {
		t.Error("missing path should fail")
	}
}
