package ftpgate

import "testing"

func TestParseEntry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		line       string
		wantName   string
		wantType   string
		wantSize   int64
		wantTarget string
	}{
		{"unix file", "-rw-r--r-- 1 owner group 1000 Jan 02 15:04 t.bin", "t.bin", EntryFile, 1000, ""},
		{"unix dir", "drwxr-xr-x 2 owner group 4096 Jan 02 15:04 inbox", "inbox", EntryDir, 4096, ""},
		{"unix name with spaces", "-rw-r--r-- 1 owner group 12 Mar 10 2023 my report.txt", "my report.txt", EntryFile, 12, ""},
		{"unix symlink", "lrwxrwxrwx 1 owner group 7 Jan 02 15:04 latest -> v1.2.3", "latest", EntryLink, 7, "v1.2.3"},
		{"unix without group", "-rw-r--r-- 1 owner 42 Jan 02 15:04 small.txt", "small.txt", EntryFile, 42, ""},
		{"dos file", "12-14-23  12:22PM           1037794 large-document.pdf", "large-document.pdf", EntryFile, 1037794, ""},
		{"dos dir", "09-24-24  10:30AM       <DIR>          logger", "logger", EntryDir, 0, ""},
		{"unix double space in name", "-rw-r--r-- 1 owner group 5 Jan 02 15:04 a  b.txt", "a  b.txt", EntryFile, 5, ""},
		{"unix crlf", "-rw-r--r-- 1 owner group 5 Jan 02 15:04 c.txt\r", "c.txt", EntryFile, 5, ""},
		{"dos double space in name", "12-14-23  12:22PM  10 two  spaces.txt", "two  spaces.txt", EntryFile, 10, ""},
		{"unknown", "not a listing", "not a listing", EntryUnknown, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ParseEntry(tt.line)
			if e == nil {
				t.Fatalf("ParseEntry(%q) = nil", tt.line)
			}
			if e.Name != tt.wantName || e.Type != tt.wantType || e.Size != tt.wantSize || e.Target != tt.wantTarget {
				t.Errorf("ParseEntry(%q) = %+v", tt.line, e)
			}
			if e.Raw != tt.line {
				t.Errorf("Raw = %q, want %q", e.Raw, tt.line)
			}
		})
	}

	for _, line := range []string{"   ", "total 12", "total 0\r"} {
		if e := ParseEntry(line); e != nil {
			t.Errorf("ParseEntry(%q) = %+v, want nil", line, e)
		}
	}
}
