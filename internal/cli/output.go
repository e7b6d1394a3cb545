package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/houzin/scp-explorer/internal/remote"
)

var (
	dirColor     = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen)
)

// newTable returns a borderless left-aligned table.
func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Header.Alignment.Global = tw.AlignLeft
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	table.Header(header...)
	return table
}

// renderEntries prints a listing as a table, directories first as listed.
func renderEntries(w io.Writer, entries []remote.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Directory is empty")
		return nil
	}
	table := newTable(w, "Name", "Size", "Modified")
	for _, e := range entries {
		name, size := e.Name, formatSize(e.Size)
		if e.IsDir {
			name, size = dirColor.Sprint(e.Name+"/"), "-"
		}
		modified := "-"
		if e.ModifyTime > 0 {
			modified = time.UnixMilli(e.ModifyTime).Format("Jan 02 15:04")
		}
		if err := table.Append([]string{name, size, modified}); err != nil {
			return err
		}
	}
	return table.Render()
}

// renderJSON prints v as indented JSON.
func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSize formats a byte count in binary units.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
