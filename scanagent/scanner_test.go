package scanagent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell script in a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "scanner.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTarget(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommandScanner(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		script string
		want   Verdict
	}{
		{"clean", "exit 0", VerdictOK},
		{"infected", "exit 1", VerdictInfected},
		{"scanner error", "echo 'db missing' >&2; exit 2", "SCAN_ERROR: db missing"},
		{"killed", "kill -9 $$", ""},
		{"args passed", `[ "$1" = "--no-summary" ] && [ -f "$2" ] && exit 0; exit 3`, VerdictOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &CommandScanner{Path: writeScript(t, tt.script)}
			got := s.Scan(context.Background(), writeTarget(t))
			if tt.want == "" {
				if !strings.HasPrefix(string(got), "SCAN_ERROR: ") {
					t.Errorf("Scan() = %q, want SCAN_ERROR prefix", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Scan() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandScannerMissingBinary(t *testing.T) {
	t.Parallel()
	target := writeTarget(t)

	for _, bin := range []string{
		filepath.Join(t.TempDir(), "no-such-scanner"),
		"no-such-scanner-binary-on-path",
	} {
		s := &CommandScanner{Path: bin}
		if got := s.Scan(context.Background(), target); got != VerdictScannerNotFound {
			t.Errorf("Scan() with %q = %q, want %q", bin, got, VerdictScannerNotFound)
		}
	}
}

func TestCommandScannerMissingFile(t *testing.T) {
	t.Parallel()
	s := &CommandScanner{Path: writeScript(t, "exit 0")}
	got := s.Scan(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if got != VerdictFileNotFound {
		t.Errorf("Scan() = %q, want %q", got, VerdictFileNotFound)
	}
}

func TestCommandScannerContext(t *testing.T) {
	t.Parallel()
	s := &CommandScanner{Path: writeScript(t, "exec sleep 10")}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := s.Scan(ctx, writeTarget(t))
	if !strings.HasPrefix(string(got), "UNKNOWN_SCAN_ERROR: ") {
		t.Errorf("Scan() = %q, want UNKNOWN_SCAN_ERROR prefix", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Scan() took %v after context expiry", elapsed)
	}
}

func TestScannerFunc(t *testing.T) {
	t.Parallel()
	var seen string
	s := ScannerFunc(func(_ context.Context, path string) Verdict {
		seen = path
		return VerdictInfected
	})
	if got := s.Scan(context.Background(), "/x"); got != VerdictInfected || seen != "/x" {
		t.Errorf("ScannerFunc.Scan = %q (path %q)", got, seen)
	}
}

func TestClamdScannerUnreachable(t *testing.T) {
	t.Parallel()
	s := &ClamdScanner{Addr: "tcp://127.0.0.1:1"}
	got := s.Scan(context.Background(), writeTarget(t))
	if !strings.HasPrefix(string(got), "UNKNOWN_SCAN_ERROR: ") {
		t.Errorf("Scan() = %q, want UNKNOWN_SCAN_ERROR prefix", got)
	}
}
