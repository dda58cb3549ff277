package scanagent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAgent serves every connection with fn.
func fakeAgent(t *testing.T, fn func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				fn(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	return ln.Addr().String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientWireFormat(t *testing.T) {
	t.Parallel()
	type received struct {
		name string
		body []byte
	}
	got := make(chan received, 1)
	addr := fakeAgent(t, func(conn net.Conn) {
		n, err := readNameLength(conn, DefaultMaxNameLength)
		if err != nil {
			t.Errorf("readNameLength: %v", err)
			return
		}
		name, _ := readName(conn, n)
		size, _ := readSize(conn)
		body := make([]byte, size)
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Errorf("read body: %v", err)
			return
		}
		got <- received{name, body}
		reply := EncodeVerdict(VerdictInfected)
		conn.Write(reply[:])
	})

	content := strings.Repeat("0123456789", 1000)
	path := writeFile(t, "report.pdf", content)

	c, err := NewClient(addr, WithChunkSize(7), WithClientLogger(discard))
	if err != nil {
		t.Fatal(err)
	}
	r, err := c.Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if r.Clean || r.Verdict != VerdictInfected || r.Name != "report.pdf" || r.Size != int64(len(content)) {
		t.Errorf("Scan() = %+v", r)
	}

	rcv := <-got
	if rcv.name != "report.pdf" {
		t.Errorf("agent got name %q, want report.pdf", rcv.name)
	}
	if !bytes.Equal(rcv.body, []byte(content)) {
		t.Errorf("agent got %d body bytes, want %d", len(rcv.body), len(content))
	}
}

func TestClientOutcomes(t *testing.T) {
	t.Parallel()

	closedAddr := func(t *testing.T) string {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		addr := ln.Addr().String()
		ln.Close()
		return addr
	}

	tests := []struct {
		name    string
		addr    func(t *testing.T) string
		path    func(t *testing.T) string
		timeout time.Duration
		want    error
	}{
		{
			name: "connection refused",
			addr: closedAddr,
			want: ErrConnection,
		},
		{
			name: "agent never answers",
			addr: func(t *testing.T) string {
				return fakeAgent(t, func(conn net.Conn) {
					io.Copy(io.Discard, conn)
				})
			},
			timeout: 200 * time.Millisecond,
			want:    ErrTimeout,
		},
		{
			name: "short reply",
			addr: func(t *testing.T) string {
				return fakeAgent(t, func(conn net.Conn) {
					// Header and body for "f.txt" holding "hello".
					io.ReadFull(conn, make([]byte, 4+5+8+5))
					conn.Write([]byte("OK"))
				})
			},
			want: ErrProtocol,
		},
		{
			name: "file not found",
			addr: closedAddr,
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") },
			want: ErrFileNotFound,
		},
		{
			name: "directory",
			addr: closedAddr,
			path: func(t *testing.T) string { return t.TempDir() },
			want: ErrNotRegularFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := []ClientOption{}
			if tt.timeout > 0 {
				opts = append(opts, WithClientTimeout(tt.timeout))
			}
			c, err := NewClient(tt.addr(t), opts...)
			if err != nil {
				t.Fatal(err)
			}
			path := writeFile(t, "f.txt", "hello")
			if tt.path != nil {
				path = tt.path(t)
			}

			_, err = c.Scan(context.Background(), path)
			if !errors.Is(err, tt.want) {
				t.Errorf("Scan() error = %v, want %v", err, tt.want)
			}

			clean, msg := c.Check(context.Background(), path)
			if clean || msg != tt.want.Error() {
				t.Errorf("Check() = %v, %q, want false, %q", clean, msg, tt.want.Error())
			}
		})
	}
}

func TestClientContextDeadline(t *testing.T) {
	t.Parallel()
	addr := fakeAgent(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	c, err := NewClient(addr)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.ScanReader(ctx, "x", 1, strings.NewReader("x"))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ScanReader() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ScanReader() returned after %v", elapsed)
	}
}

func TestClientShortSource(t *testing.T) {
	t.Parallel()
	addr := fakeAgent(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	c, err := NewClient(addr, WithClientTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ScanReader(context.Background(), "x", 10, strings.NewReader("abc"))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("ScanReader() error = %v, want ErrProtocol", err)
	}
}

func TestClientUploadLimit(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, WithScanner(ScannerFunc(func(context.Context, string) Verdict {
		return VerdictOK
	})))
	c, err := NewClient(addr, WithUploadLimit(8192), WithClientTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.Repeat([]byte("a"), 16384)
	start := time.Now()
	r, err := c.ScanReader(context.Background(), "big.bin", int64(len(body)), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if !r.Clean {
		t.Errorf("verdict = %q, want OK", r.Verdict)
	}
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("16KiB at 8KiB/s took %v, want about 1s or more", elapsed)
	}
}

func TestClientOptions(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("no-port"); err == nil {
		t.Error("NewClient without port succeeded")
	}
	for name, opt := range map[string]ClientOption{
		"zero chunk":       WithChunkSize(0),
		"negative timeout": WithClientTimeout(-time.Second),
	} {
		if _, err := NewClient("127.0.0.1:9001", opt); err == nil {
			t.Errorf("%s: NewClient succeeded, want error", name)
		}
	}
}
