// Package pathutil reconciles POSIX-style remote paths with host-native local paths.
package pathutil

import (
	"path"
	"runtime"
	"strings"
)

// NormalizeRemote converts backslashes to forward slashes and collapses
// repeated slashes. The result is never empty.
func NormalizeRemote(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = collapse(p, '/')
	if p == "" {
		return "/"
	}
	return p
}

// NormalizeLocal normalizes a path for the local host.
func NormalizeLocal(p string) string {
	return normalizeLocalFor(p, runtime.GOOS)
}

func normalizeLocalFor(p, goos string) string {
	if goos != "windows" {
		p = collapse(p, '/')
		if p == "" {
			return "/"
		}
		return p
	}

	// "/C:/x" and "\C:\x" come from URI-style paths
	if len(p) >= 3 && (p[0] == '/' || p[0] == '\\') && isDriveLetter(p[1]) && p[2] == ':' {
		p = p[1:]
	}
	p = strings.ReplaceAll(p, "/", `\`)

	unc := strings.HasPrefix(p, `\\`) && !(len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':')
	p = collapse(p, '\\')
	if unc {
		p = `\` + p
	}
	if p == "" {
		return `\`
	}
	return p
}

// ParentOf returns the parent of a remote path. It returns "/" for "/",
// for empty input and when no parent segment remains.
func ParentOf(p string) string {
	p = NormalizeRemote(p)
	if p == "/" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// JoinRemote appends name to a remote directory path.
func JoinRemote(dir, name string) string {
	return NormalizeRemote(strings.TrimSuffix(NormalizeRemote(dir), "/") + "/" + name)
}

// BaseRemote returns the last segment of a remote path.
func BaseRemote(p string) string {
	return path.Base(NormalizeRemote(p))
}

func collapse(p string, sep byte) string {
	if !strings.Contains(p, string([]byte{sep, sep})) {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	var prev byte
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == sep && prev == sep {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
