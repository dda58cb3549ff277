package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/gonzalop/ftpgate/internal/ftptest"
	"github.com/gonzalop/ftpgate/scanagent"
)

var discard = slog.New(slog.DiscardHandler)

type env struct {
	cfg  *config
	root string
	out  *bytes.Buffer
	ui   *ui
}

// newEnv starts an FTP test server and a scan agent whose scanner flags any
// file containing "EICAR".
func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	ftpSrv, err := ftptest.Start(root)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ftpSrv.Close() })

	agent, err := scanagent.NewServer("127.0.0.1:0",
		scanagent.WithTempDir(t.TempDir()),
		scanagent.WithLogger(discard),
		scanagent.WithAcceptTimeout(20*time.Millisecond),
		scanagent.WithScanner(scanagent.ScannerFunc(func(_ context.Context, path string) scanagent.Verdict {
			b, err := os.ReadFile(path)
			if err != nil {
				return scanagent.UnknownScanError(err)
			}
			if bytes.Contains(b, []byte("EICAR")) {
				return scanagent.VerdictInfected
			}
			return scanagent.VerdictOK
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go agent.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		agent.Shutdown(ctx)
	})

	out := &bytes.Buffer{}
	return &env{
		cfg: &config{
			addr:     ftpSrv.Addr(),
			user:     "demo",
			pass:     "password",
			scanAddr: ln.Addr().String(),
			timeout:  5 * time.Second,
		},
		root: root,
		out:  out,
		ui: &ui{
			out:     out,
			success: color.New(),
			failure: color.New(),
			info:    color.New(),
		},
	}
}

func (e *env) run(t *testing.T, args ...string) error {
	t.Helper()
	e.out.Reset()
	return run(context.Background(), e.cfg, args, discard, e.ui)
}

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPutScanned(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	clean := writeLocal(t, "clean.txt", "nothing to see here")
	if err := e.run(t, "put", clean); err != nil {
		t.Fatalf("put clean file: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(e.root, "clean.txt"))
	if err != nil || string(got) != "nothing to see here" {
		t.Errorf("server copy = %q, %v", got, err)
	}
	if !strings.Contains(e.out.String(), "clean.txt: OK") {
		t.Errorf("output %q lacks scan verdict", e.out.String())
	}

	bad := writeLocal(t, "bad.com", "X5O!P%@AP EICAR")
	if err := e.run(t, "put", bad, "renamed.com"); !errors.Is(err, errBlocked) {
		t.Fatalf("put infected file: %v, want errBlocked", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "renamed.com")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("infected file reached the server: %v", err)
	}
	if !strings.Contains(e.out.String(), "INFECTED") {
		t.Errorf("output %q lacks INFECTED", e.out.String())
	}
}

func TestPutWithoutAgent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.cfg.scanAddr = ""
	local := writeLocal(t, "a.txt", "a")

	if err := e.run(t, "put", local); err == nil {
		t.Fatal("put without a scan agent succeeded")
	}
	if _, err := os.Stat(filepath.Join(e.root, "a.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file uploaded without scan: %v", err)
	}

	e.cfg.noScan = true
	if err := e.run(t, "put", local); err != nil {
		t.Fatalf("put -no-scan: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "a.txt")); err != nil {
		t.Errorf("file missing after put -no-scan: %v", err)
	}
}

func TestPutAgentDown(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	e.cfg.scanAddr = ln.Addr().String()
	ln.Close()

	if err := e.run(t, "put", writeLocal(t, "a.txt", "a")); !errors.Is(err, errBlocked) {
		t.Fatalf("put with agent down: %v, want errBlocked", err)
	}
	if !strings.Contains(e.out.String(), "ERROR_CONNECTION") {
		t.Errorf("output %q lacks ERROR_CONNECTION", e.out.String())
	}
}

func TestRemoteCommands(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if err := os.WriteFile(filepath.Join(e.root, "data.bin"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"pwd"}, "/"},
		{[]string{"mkdir", "docs"}, "created /docs"},
		{[]string{"size", "data.bin"}, "10"},
		{[]string{"mv", "data.bin", "docs/data.bin"}, "renamed"},
		{[]string{"ls", "docs"}, "data.bin"},
		{[]string{"ls"}, "docs/"},
		{[]string{"rm", "docs/data.bin"}, "deleted"},
		{[]string{"rmdir", "docs"}, "removed docs"},
	}
	for _, s := range steps {
		if err := e.run(t, s.args...); err != nil {
			t.Fatalf("%v: %v", s.args, err)
		}
		if !strings.Contains(e.out.String(), s.want) {
			t.Errorf("%v output = %q, want it to contain %q", s.args, e.out.String(), s.want)
		}
	}

	if err := e.run(t, "frobnicate"); err == nil {
		t.Error("unknown command succeeded")
	}
}

func TestGet(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if err := os.WriteFile(filepath.Join(e.root, "notes.txt"), []byte("line one\r\nline two\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "bin.txt")
	if err := e.run(t, "get", "notes.txt", bin); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got, _ := os.ReadFile(bin); string(got) != "line one\r\nline two\r\n" {
		t.Errorf("binary get = %q", got)
	}

	e.cfg.ascii = true
	text := filepath.Join(dir, "text.txt")
	if err := e.run(t, "get", "notes.txt", text); err != nil {
		t.Fatalf("ascii get: %v", err)
	}
	if got, _ := os.ReadFile(text); string(got) != "line one\nline two\n" {
		t.Errorf("ascii get = %q", got)
	}

	if err := e.run(t, "get", "missing.txt", filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("get of missing file succeeded")
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial download left behind: %v", err)
	}
}

func TestScanCommand(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if err := e.run(t, "scan", writeLocal(t, "ok.txt", "fine")); err != nil {
		t.Errorf("scan clean file: %v", err)
	}
	if err := e.run(t, "scan", writeLocal(t, "bad.txt", "EICAR")); !errors.Is(err, errBlocked) {
		t.Errorf("scan infected file: %v, want errBlocked", err)
	}
	if err := e.run(t, "scan", filepath.Join(t.TempDir(), "nope")); !errors.Is(err, errBlocked) {
		t.Errorf("scan missing file: %v, want errBlocked", err)
	}
	if !strings.Contains(e.out.String(), "ERROR_FILENOTFOUND") {
		t.Errorf("output %q lacks ERROR_FILENOTFOUND", e.out.String())
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	cfg, args, err := parseFlags([]string{"-addr", "ftp.example.com:21", "-active", "-scan", "av:9001", "put", "x"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.addr != "ftp.example.com:21" || !cfg.active || cfg.scanAddr != "av:9001" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(args) != 2 || args[0] != "put" {
		t.Errorf("args = %v", args)
	}

	if _, _, err := parseFlags([]string{"-addr", "x:21"}); err == nil {
		t.Error("parseFlags without a command succeeded")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
