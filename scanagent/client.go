package scanagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gonzalop/ftpgate/internal/netutil"
	"github.com/gonzalop/ftpgate/internal/ratelimit"
)

// Client outcomes that never reached a verdict. Their messages are the
// strings reported by Check.
var (
	ErrConnection     = errors.New("ERROR_CONNECTION")
	ErrTimeout        = errors.New("ERROR_TIMEOUT")
	ErrProtocol       = errors.New("ERROR_PROTOCOL")
	ErrFileNotFound   = errors.New("ERROR_FILENOTFOUND")
	ErrNotRegularFile = errors.New("ERROR_NOTFILE")
)

const defaultClientTimeout = 600 * time.Second

// Report is the agent's answer for one file.
type Report struct {
	Name    string
	Size    int64
	Verdict Verdict
	Clean   bool
}

// Client sends files to a scan agent. Every scan uses its own connection,
// so a Client is safe for concurrent use.
type Client struct {
	addr      string
	timeout   time.Duration
	chunkSize int
	logger    *slog.Logger
	dialer    *net.Dialer
	limiter   *ratelimit.Limiter
}

// NewClient returns a client for the agent at addr ("host:port").
//
// Example:
//
//	sc, _ := scanagent.NewClient("scanner.internal:9001")
//	clean, msg := sc.Check(ctx, "report.pdf")
//	if !clean {
//	    log.Printf("upload blocked: %s", msg)
//	}
func NewClient(addr string, options ...ClientOption) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	c := &Client{
		addr:      addr,
		timeout:   defaultClientTimeout,
		chunkSize: defaultChunkSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialer:    &net.Dialer{},
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Check scans the file at path and reports whether it is clean. When no
// verdict was obtained, message is the outcome string, e.g. "ERROR_TIMEOUT".
func (c *Client) Check(ctx context.Context, path string) (clean bool, message string) {
	r, err := c.Scan(ctx, path)
	if err != nil {
		return false, outcome(err)
	}
	return r.Clean, string(r.Verdict)
}

// Scan sends the file at path to the agent. Errors wrap one of the Err*
// outcomes.
func (c *Client) Scan(ctx context.Context, path string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	defer f.Close()

	return c.ScanReader(ctx, filepath.Base(path), info.Size(), f)
}

// ScanReader sends exactly size bytes from r under the given name.
func (c *Client) ScanReader(ctx context.Context, name string, size int64, r io.Reader) (*Report, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrProtocol, size)
	}

	dialer := *c.dialer
	dialer.Timeout = c.timeout
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, c.classify(ctx, "connect", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	rw := netutil.WithDeadline(conn, c.timeout)
	c.logger.Debug("scan request", "addr", c.addr, "file", name, "bytes", size)

	if err := WriteHeader(rw, name, size); err != nil {
		return nil, c.classify(ctx, "send header", err)
	}

	w := ratelimit.NewWriter(rw, c.limiter)
	buf := make([]byte, c.chunkSize)
	n, err := io.CopyBuffer(onlyWriter{w}, sourceReader{io.LimitReader(r, size)}, buf)
	if err != nil {
		var src *sourceError
		if errors.As(err, &src) {
			return nil, fmt.Errorf("read %s: %w", name, src.err)
		}
		return nil, c.classify(ctx, "send body", err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: body ended after %d of %d bytes", ErrProtocol, n, size)
	}

	var reply [ReplySize]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if ctx.Err() == nil {
				return nil, fmt.Errorf("%w: short reply: %w", ErrProtocol, err)
			}
		}
		return nil, c.classify(ctx, "read verdict", err)
	}

	v := DecodeVerdict(reply[:])
	c.logger.Debug("scan verdict", "file", name, "verdict", string(v))
	return &Report{Name: name, Size: size, Verdict: v, Clean: v.Clean()}, nil
}

// classify maps a socket error to an outcome.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", ErrConnection, op, ctx.Err())
	case netutil.IsTimeout(err):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

// outcome returns the outcome string carried by err.
func outcome(err error) string {
	for _, o := range []error{ErrConnection, ErrTimeout, ErrProtocol, ErrFileNotFound, ErrNotRegularFile} {
		if errors.Is(err, o) {
			return o.Error()
		}
	}
	return ErrConnection.Error()
}

// onlyWriter hides ReadFrom so CopyBuffer uses the chunk buffer.
type onlyWriter struct {
	w io.Writer
}

func (o onlyWriter) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

// sourceError marks a failure reading the local body, as opposed to the
// socket.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type sourceReader struct {
	r io.Reader
}

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &sourceError{err: err}
	}
	return n, err
}
