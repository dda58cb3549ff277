package ftpgate

import (
	"strconv"
	"strings"
)

// Entry types reported by ParseEntry.
const (
	EntryFile    = "file"
	EntryDir     = "dir"
	EntryLink    = "link"
	EntryUnknown = "unknown"
)

// Entry is one parsed line of a LIST reply.
type Entry struct {
	Name   string
	Type   string
	Size   int64
	Target string // symlink target, if any
	Raw    string
}

// ParseEntry parses a Unix (ls -l) or DOS/IIS listing line. Blank lines and
// the "total N" header return nil; unrecognised lines return an Entry of Type
// EntryUnknown whose Name is the whole line.
func ParseEntry(line string) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 2 && fields[0] == "total" && isDigits(fields[1]) {
		return nil
	}
	if e := parseDOS(line, fields); e != nil {
		return e
	}
	if e := parseUnix(line, fields); e != nil {
		return e
	}
	return &Entry{Name: trimmed, Type: EntryUnknown, Raw: line}
}

// parseUnix handles the 9-field form
//
//	drwxr-xr-x 2 owner group 4096 Jan 02 15:04 name
//
// and the 8-field form without a group column.
func parseUnix(raw string, fields []string) *Entry {
	if len(fields) < 8 || !strings.ContainsRune("-dlbcps", rune(fields[0][0])) {
		return nil
	}

	sizeIdx, nameIdx := 4, 8
	if len(fields) < 9 || !isDigits(fields[4]) {
		sizeIdx, nameIdx = 3, 7
	}
	size, err := strconv.ParseInt(fields[sizeIdx], 10, 64)
	if err != nil {
		return nil
	}

	e := &Entry{Type: EntryFile, Size: size, Raw: raw}
	name := afterFields(raw, nameIdx)
	switch fields[0][0] {
	case 'd':
		e.Type = EntryDir
	case 'l':
		e.Type = EntryLink
		if before, after, ok := strings.Cut(name, " -> "); ok {
			name, e.Target = before, after
		}
	}
	e.Name = name
	return e
}

// parseDOS handles "12-14-23  12:22PM  1037794 report.pdf" and
// "09-24-24  10:30AM  <DIR>  logs".
func parseDOS(raw string, fields []string) *Entry {
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil
	}
	name := afterFields(raw, 3)
	if fields[2] == "<DIR>" {
		return &Entry{Name: name, Type: EntryDir, Raw: raw}
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil
	}
	return &Entry{Name: name, Type: EntryFile, Size: size, Raw: raw}
}

// afterFields returns line with its first n space-separated fields and the
// blanks after them removed, keeping runs of spaces inside the remainder.
func afterFields(line string, n int) string {
	s := strings.TrimRight(line, "\r\n")
	for range n {
		s = strings.TrimLeft(s, " \t")
		if i := strings.IndexAny(s, " \t"); i >= 0 {
			s = s[i:]
		} else {
			s = ""
		}
	}
	return strings.TrimLeft(s, " \t")
}

// isDOSDate accepts MM-DD-YY, MM-DD-YYYY and the same with slashes.
func isDOSDate(s string) bool {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for i, p := range parts {
		if !isDigits(p) {
			return false
		}
		if i < 2 && len(p) > 2 {
			return false
		}
		if i == 2 && len(p) != 2 && len(p) != 4 {
			return false
		}
	}
	return true
}
