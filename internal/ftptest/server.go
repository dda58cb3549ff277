// Package ftptest runs a small FTP server over a local directory for tests.
//
// It implements the subset of RFC 959 the client uses: login, directory
// commands, PASV and PORT data connections, LIST, NLST, RETR and STOR.
// Transfers are stored byte for byte whatever the TYPE, so a test can see
// exactly what went over the wire.
package ftptest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("ftptest: server closed")

// Server serves one directory over FTP.
type Server struct {
	dir      string
	users    map[string]string
	greeting []string
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithUser adds an account. Without any accounts the server accepts
// demo/password.
func WithUser(user, password string) Option {
	return func(s *Server) {
		s.users[user] = password
	}
}

// WithGreeting replaces the 220 banner. Several lines produce a multi-line reply.
func WithGreeting(lines ...string) Option {
	return func(s *Server) {
		s.greeting = lines
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer returns a server for dir. dir must exist.
func NewServer(dir string, options ...Option) (*Server, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ftptest: %s is not a directory", dir)
	}

	s := &Server{
		dir:      dir,
		users:    make(map[string]string),
		greeting: []string{"ftptest ready"},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if len(s.users) == 0 {
		s.users["demo"] = "password"
	}
	return s, nil
}

// Start listens on 127.0.0.1 with an ephemeral port and serves in the background.
func Start(dir string, options ...Option) (*Server, error) {
	s, err := NewServer(dir, options...)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	go func() { _ = s.Serve(l) }()
	return s, nil
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept error", "error", err)
			return err
		}
		if !s.track(conn, true) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed.Load() {
			return false
		}
		s.conns[conn] = struct{}{}
		return true
	}
	delete(s.conns, conn)
	return true
}

// Close stops the listener, drops every session and waits for them to end.
func (s *Server) Close() error {
	s.closed.Store(true)

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		s.logger.Error("open root", "error", err)
		fmt.Fprintf(conn, "421 Service not available.\r\n")
		conn.Close()
		return
	}
	sess := newSession(s, conn, &rootFS{root: root, cwd: "/"})
	sess.serve()
}
