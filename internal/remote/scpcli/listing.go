package scpcli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/houzin/scp-explorer/internal/remote"
)

// findListCommand lists a directory with one tab-separated row per entry:
// type of the target (%Y), size, mtime as fractional epoch seconds, name.
func findListCommand(p string) string {
	return "cd -- " + shellQuote(p) + ` && find . -mindepth 1 -maxdepth 1 -printf '%Y\t%s\t%T@\t%f\n'`
}

// lsListCommand is the fallback for servers whose find lacks -printf.
func lsListCommand(p string) string {
	return "LC_ALL=C ls -la -- " + shellQuote(p)
}

// parseFindOutput parses the output of findListCommand.
func parseFindOutput(out string) ([]remote.Entry, error) {
	var entries []remote.Entry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unexpected listing line: %q", line)
		}
		name := parts[3]
		if name == "." || name == ".." {
			continue
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad size in listing line %q: %w", line, err)
		}
		secs, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad mtime in listing line %q: %w", line, err)
		}
		entries = append(entries, remote.Entry{
			Name:       name,
			IsDir:      parts[0] == "d",
			Size:       size,
			ModifyTime: int64(secs * 1000),
		})
	}
	return entries, nil
}

// parseLsOutput parses `ls -la` output: type from the first character of
// the mode column, size from the fifth column, name from the ninth column
// onward. Modification times are not parsed.
func parseLsOutput(out string, now time.Time) []remote.Entry {
	var entries []remote.Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := nameFromLsLine(line, 8)
		if line[0] == 'l' {
			if idx := strings.Index(name, " -> "); idx >= 0 {
				name = name[:idx]
			}
		}
		if name == "" || name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		entries = append(entries, remote.Entry{
			Name:       name,
			IsDir:      line[0] == 'd',
			Size:       size,
			ModifyTime: now.UnixMilli(),
		})
	}
	return entries
}

// nameFromLsLine returns the text after the first n whitespace-separated
// fields, keeping runs of spaces inside the name.
func nameFromLsLine(line string, n int) string {
	rest := line
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = rest[idx:]
	}
	return strings.TrimLeft(rest, " \t")
}

// statCommand prints "d 0" for a directory or "f <size>" for anything else.
func statCommand(p string) string {
	q := shellQuote(p)
	return "if [ -d " + q + " ]; then echo 'd 0'; " +
		"elif [ -e " + q + " ]; then printf 'f '; wc -c < " + q + "; " +
		"else echo " + shellQuote("stat: cannot stat '"+p+"': No such file or directory") + " >&2; exit 2; fi"
}

func parseStatOutput(out string) (remote.FileInfo, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return remote.FileInfo{}, fmt.Errorf("unexpected stat output: %q", out)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return remote.FileInfo{}, fmt.Errorf("unexpected stat output: %q", out)
	}
	return remote.FileInfo{IsDir: fields[0] == "d", Size: size}, nil
}

// Exit status and stderr marker used by guarded mkdir and rename.
const (
	existsExitCode = 17
	existsMarker   = "scp-explorer: target exists:"
)

// guardExisting fails with existsMarker when target already exists,
// reporting whether it is a directory.
func guardExisting(target string) string {
	q := shellQuote(target)
	return "if [ -d " + q + " ]; then echo '" + existsMarker + " dir' >&2; exit " + strconv.Itoa(existsExitCode) + "; " +
		"elif [ -e " + q + " ] || [ -L " + q + " ]; then echo '" + existsMarker + " file' >&2; exit " + strconv.Itoa(existsExitCode) + "; fi; "
}

func mkdirCommand(p string) string {
	return guardExisting(p) + "mkdir -- " + shellQuote(p)
}

func renameCommand(oldPath, newPath string) string {
	return guardExisting(newPath) + "mv -- " + shellQuote(oldPath) + " " + shellQuote(newPath)
}

func rmdirCommand(p string) string {
	return "rm -r -- " + shellQuote(p)
}

func unlinkCommand(p string) string {
	q := shellQuote(p)
	return "if [ -d " + q + " ]; then echo " + shellQuote("rm: cannot remove '"+p+"': Is a directory") + " >&2; exit 1; fi; rm -- " + q
}

func mkdirAllCommand(p string) string {
	return "mkdir -p -- " + shellQuote(p)
}
