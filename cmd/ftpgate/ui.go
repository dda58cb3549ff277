package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/gonzalop/ftpgate"
)

// ui prints status lines and listings.
type ui struct {
	out     io.Writer
	success *color.Color
	failure *color.Color
	info    *color.Color
}

func newUI(f *os.File) *ui {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		color.NoColor = true
	}
	return &ui{
		out:     f,
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
		info:    color.New(color.FgCyan),
	}
}

func (u *ui) ok(format string, args ...any) {
	u.success.Fprintf(u.out, "✓ "+format+"\n", args...)
}

func (u *ui) fail(format string, args ...any) {
	u.failure.Fprintf(u.out, "✗ "+format+"\n", args...)
}

func (u *ui) note(format string, args ...any) {
	u.info.Fprintf(u.out, format+"\n", args...)
}

func (u *ui) plain(s string) {
	fmt.Fprintln(u.out, s)
}

// entries renders a parsed LIST reply as a table.
func (u *ui) entries(list []*ftpgate.Entry) error {
	if len(list) == 0 {
		u.note("Directory is empty")
		return nil
	}

	table := tablewriter.NewWriter(u.out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Header = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
		cfg.Row = tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		}
	})
	table.Header("Name", "Type", "Size")

	for _, e := range list {
		name := e.Name
		size := formatSize(e.Size)
		switch e.Type {
		case ftpgate.EntryDir:
			name += "/"
			size = "-"
		case ftpgate.EntryLink:
			if e.Target != "" {
				name += " -> " + e.Target
			}
		case ftpgate.EntryUnknown:
			size = ""
		}
		if err := table.Append([]string{name, e.Type, size}); err != nil {
			return err
		}
	}
	return table.Render()
}

// formatSize renders a byte count with a binary unit.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return strconv.FormatInt(size, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
