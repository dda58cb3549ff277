package scanagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftpgate/internal/netutil"
	"github.com/hashicorp/go-multierror"
)

// DefaultAddr is the address the agent listens on unless told otherwise.
const DefaultAddr = "0.0.0.0:9001"

const (
	defaultAcceptTimeout = time.Second
	defaultConnTimeout   = 60 * time.Second
	defaultChunkSize     = 4096
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("scanagent: server closed")

// State is the lifecycle stage of a Server.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Server receives files over the scan protocol, scans them and answers with
// a fixed-width verdict. Each connection carries one file and is handled on
// its own goroutine; handlers share only read-only configuration.
type Server struct {
	addr          string
	scanner       Scanner
	logger        *slog.Logger
	metrics       MetricsCollector
	tempRoot      string
	acceptTimeout time.Duration
	connTimeout   time.Duration
	scanTimeout   time.Duration
	maxNameLen    int
	maxConns      int

	state atomic.Int32

	mu       sync.Mutex
	listener net.Listener
	tempDir  string
	conns    map[net.Conn]struct{}
	handlers sync.WaitGroup

	// ctx is cancelled when Shutdown gives up waiting on handlers.
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed once the server reaches StateStopped.
	done       chan struct{}
	cleanupErr error
}

// NewServer creates an agent for addr ("host:port").
//
// Default values:
//   - Scanner: CommandScanner running "clamscan --no-summary"
//   - Logger: slog.Default()
//   - Accept timeout: 1 second
//   - Connection timeout: 60 seconds
//   - Max name length: 4096 bytes
//
// Example:
//
//	s, err := scanagent.NewServer(":9001", scanagent.WithTempDir("/var/tmp"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go s.ListenAndServe()
//	...
//	s.Shutdown(ctx)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:          addr,
		scanner:       &CommandScanner{},
		logger:        slog.Default(),
		acceptTimeout: defaultAcceptTimeout,
		connTimeout:   defaultConnTimeout,
		maxNameLen:    DefaultMaxNameLength,
		conns:         make(map[net.Conn]struct{}),
		done:          make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the current lifecycle stage.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// TempDir returns the private directory holding in-flight uploads.
func (s *Server) TempDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempDir
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown. Accept is bounded by the
// accept timeout, so the stop request is seen between iterations. Serve
// always returns a non-nil error; after Shutdown it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	if !s.state.CompareAndSwap(int32(StateNew), int32(StateRunning)) {
		l.Close()
		return ErrServerClosed
	}

	dir, err := os.MkdirTemp(s.tempRoot, "scanagent-")
	if err != nil {
		l.Close()
		s.state.Store(int32(StateStopped))
		close(s.done)
		return fmt.Errorf("create temp dir: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.tempDir = dir
	s.mu.Unlock()

	s.logger.Info("scan agent listening", "addr", l.Addr().String(), "temp_dir", dir)

	type deadliner interface {
		SetDeadline(time.Time) error
	}
	dl, _ := l.(deadliner)

	for s.State() == StateRunning {
		if dl != nil {
			if err := dl.SetDeadline(time.Now().Add(s.acceptTimeout)); err != nil {
				s.logger.Error("set accept deadline", "error", err)
			}
		}
		conn, err := l.Accept()
		if err != nil {
			if netutil.IsTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.startHandler(conn)
	}

	return s.stop(l, dir)
}

// stop closes the listener, drains the handlers and removes the temp dir.
func (s *Server) stop(l net.Listener, dir string) error {
	s.state.Store(int32(StateStopping))

	var result *multierror.Error
	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
	}

	s.handlers.Wait()

	if err := os.RemoveAll(dir); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove temp dir: %w", err))
	}

	s.cleanupErr = result.ErrorOrNil()
	s.state.Store(int32(StateStopped))
	s.logger.Info("scan agent stopped")
	close(s.done)
	return ErrServerClosed
}

// Shutdown stops accepting connections and waits for in-flight handlers.
// If ctx expires first, running scans are cancelled and client sockets are
// closed; Shutdown still waits for the handlers to unwind so every temp file
// is removed before it returns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.state.CompareAndSwap(int32(StateNew), int32(StateStopped)) {
		close(s.done)
		return nil
	}
	s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

	select {
	case <-s.done:
		return s.cleanupErr
	case <-ctx.Done():
	}

	s.logger.Warn("shutdown deadline reached, closing connections")
	s.cancel()
	s.closeConns()
	<-s.done

	return multierror.Append(ctx.Err(), s.cleanupErr).ErrorOrNil()
}

func (s *Server) startHandler(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	s.mu.Lock()
	reason := ""
	switch {
	case s.State() != StateRunning:
		reason = "shutting_down"
	case s.maxConns > 0 && len(s.conns) >= s.maxConns:
		reason = "limit_reached"
	}
	if reason != "" {
		s.mu.Unlock()
		s.logger.Warn("connection rejected", "remote_addr", remote, "reason", reason)
		s.recordConnection(false, reason)
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	s.mu.Unlock()

	s.logger.Info("connection accepted", "remote_addr", remote)
	s.recordConnection(true, "accepted")
	go s.serveConn(conn)
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.handlers.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"remote_addr", conn.RemoteAddr().String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	newHandler(s, conn).run(s.ctx)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) recordConnection(accepted bool, reason string) {
	if s.metrics != nil {
		s.metrics.RecordConnection(accepted, reason)
	}
}
