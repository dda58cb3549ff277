package scanagent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/gonzalop/ftpgate/internal/netutil"
)

// connState is a step of the per-connection protocol.
type connState int

const (
	stateAwaitNameLen connState = iota
	stateAwaitName
	stateAwaitSize
	stateReceiveBody
	stateScan
	stateRespond
	stateClose
)

func (s connState) String() string {
	switch s {
	case stateAwaitNameLen:
		return "AWAIT_NAME_LEN"
	case stateAwaitName:
		return "AWAIT_NAME"
	case stateAwaitSize:
		return "AWAIT_SIZE"
	case stateReceiveBody:
		return "RECEIVE_BODY"
	case stateScan:
		return "SCAN"
	case stateRespond:
		return "RESPOND"
	case stateClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// handler serves one connection: one header, one body, one verdict.
type handler struct {
	srv    *Server
	conn   net.Conn
	rw     net.Conn
	logger *slog.Logger

	nameLen int
	name    string
	size    int64
	tmpPath string
	verdict Verdict
}

func newHandler(s *Server, conn net.Conn) *handler {
	return &handler{
		srv:    s,
		conn:   conn,
		rw:     netutil.WithDeadline(conn, s.connTimeout),
		logger: s.logger.With("remote_addr", conn.RemoteAddr().String()),
	}
}

// run drives the state machine to CLOSE. The temp file is removed before
// the socket is closed on every path, panics included.
func (h *handler) run(ctx context.Context) {
	defer h.conn.Close()
	defer h.removeTemp()

	state := stateAwaitNameLen
	for state != stateClose {
		next := h.step(ctx, state)
		h.logger.Debug("state transition", "from", state.String(), "to", next.String())
		state = next
	}
}

func (h *handler) step(ctx context.Context, state connState) connState {
	switch state {
	case stateAwaitNameLen:
		n, err := readNameLength(h.rw, h.srv.maxNameLen)
		if err != nil {
			h.readFailed("name length", err)
			return stateClose
		}
		h.nameLen = n
		return stateAwaitName

	case stateAwaitName:
		name, err := readName(h.rw, h.nameLen)
		if err != nil {
			h.readFailed("name", err)
			return stateClose
		}
		h.name = SanitizeName(name)
		if h.name != name {
			h.logger.Debug("filename sanitized", "raw", name, "file", h.name)
		}
		h.logger = h.logger.With("file", h.name)
		return stateAwaitSize

	case stateAwaitSize:
		size, err := readSize(h.rw)
		if err != nil {
			h.readFailed("size", err)
			return stateClose
		}
		h.size = size
		return stateReceiveBody

	case stateReceiveBody:
		return h.receive()

	case stateScan:
		h.scan(ctx)
		return stateRespond

	case stateRespond:
		reply := EncodeVerdict(h.verdict)
		if _, err := h.rw.Write(reply[:]); err != nil {
			h.logger.Warn("failed to send verdict", "verdict", string(h.verdict), "error", err)
		}
		return stateClose
	}
	return stateClose
}

// receive streams the body into a fresh temp file. A body cut short by the
// peer closes the connection without a reply. A local storage failure drains
// the rest of the body and answers with an UNKNOWN_SCAN_ERROR verdict.
func (h *handler) receive() connState {
	f, err := os.CreateTemp(h.srv.TempDir(), tempPattern(h.name))
	if err != nil {
		h.logger.Error("failed to create temp file", "error", err)
		return h.storeFailed(0, err)
	}
	h.tmpPath = f.Name()

	start := time.Now()
	buf := make([]byte, defaultChunkSize)
	var got int64
	var readErr, writeErr error
	for got < h.size && readErr == nil && writeErr == nil {
		chunk := buf[:min(int64(len(buf)), h.size-got)]
		var m int
		m, readErr = h.rw.Read(chunk)
		if m > 0 {
			got += int64(m)
			_, writeErr = f.Write(chunk[:m])
		}
	}
	if cerr := f.Close(); cerr != nil && writeErr == nil {
		writeErr = cerr
	}

	complete := got == h.size && writeErr == nil
	if h.srv.metrics != nil {
		h.srv.metrics.RecordUpload(got, complete, time.Since(start))
	}

	switch {
	case writeErr != nil:
		h.logger.Error("failed to store upload", "bytes", got, "error", writeErr)
		return h.storeFailed(got, writeErr)
	case got < h.size:
		h.logger.Warn("truncated upload, skipping scan", "bytes", got, "expected", h.size, "error", readErr)
		return stateClose
	}
	h.logger.Debug("upload received", "bytes", got)
	return stateScan
}

// storeFailed reads and discards the body after got bytes so the client
// is waiting for its reply, then answers with the storage error.
func (h *handler) storeFailed(got int64, err error) connState {
	if rest := h.size - got; rest > 0 {
		if _, derr := io.CopyN(io.Discard, h.rw, rest); derr != nil {
			h.logger.Warn("truncated upload, skipping reply", "expected", h.size, "error", derr)
			return stateClose
		}
	}
	h.verdict = UnknownScanError(err)
	return stateRespond
}

func (h *handler) scan(ctx context.Context) {
	if h.srv.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.srv.scanTimeout)
		defer cancel()
	}

	start := time.Now()
	h.verdict = h.srv.scanner.Scan(ctx, h.tmpPath)
	elapsed := time.Since(start)
	if h.srv.metrics != nil {
		h.srv.metrics.RecordScan(h.verdict, elapsed)
	}

	switch h.verdict {
	case VerdictOK, VerdictInfected:
		h.logger.Info("scan complete", "verdict", string(h.verdict), "bytes", h.size, "duration", elapsed)
	default:
		h.logger.Error("scan failed", "verdict", string(h.verdict), "bytes", h.size, "duration", elapsed)
	}
}

// tempPattern keeps short names readable in the temp dir. Long names keep
// only their extension so the file name stays within filesystem limits.
func tempPattern(name string) string {
	const maxKept = 100
	if len(name) > maxKept {
		name = filepath.Ext(name)
		if len(name) > 16 || !utf8.ValidString(name) {
			name = ""
		}
	}
	return "scan-*-" + name
}

func (h *handler) removeTemp() {
	if h.tmpPath == "" {
		return
	}
	if err := os.Remove(h.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Error("failed to remove temp file", "path", h.tmpPath, "error", err)
	}
}

func (h *handler) readFailed(field string, err error) {
	switch {
	case errors.Is(err, ErrMalformedHeader):
		h.logger.Warn("malformed request", "field", field, "error", err)
	case errors.Is(err, io.EOF):
		h.logger.Debug("connection closed before request", "field", field)
	default:
		h.logger.Warn("request read failed", "field", field, "error", err)
	}
}
