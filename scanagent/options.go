package scanagent

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gonzalop/ftpgate/internal/ratelimit"
)

// Option configures a Server.
type Option func(*Server) error

// WithTempDir sets the parent directory for the agent's private temp
// directory. The default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Server) error {
		s.tempRoot = dir
		return nil
	}
}

// WithScanner replaces the default CommandScanner.
func WithScanner(scanner Scanner) Option {
	return func(s *Server) error {
		if scanner == nil {
			return fmt.Errorf("scanner must not be nil")
		}
		s.scanner = scanner
		return nil
	}
}

// WithAcceptTimeout bounds each Accept call so a shutdown request is noticed
// within this interval. The default is one second.
func WithAcceptTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("accept timeout must be positive")
		}
		s.acceptTimeout = d
		return nil
	}
}

// WithConnTimeout sets the read and write timeout on client connections.
// The default is 60 seconds. Zero disables it.
func WithConnTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("connection timeout must not be negative")
		}
		s.connTimeout = d
		return nil
	}
}

// WithScanTimeout bounds each scan. Zero, the default, means no limit.
func WithScanTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("scan timeout must not be negative")
		}
		s.scanTimeout = d
		return nil
	}
}

// WithLogger sets the server logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxNameLength caps the filename length accepted in a request header.
func WithMaxNameLength(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("max name length must be positive, got %d", n)
		}
		s.maxNameLen = n
		return nil
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithClientTimeout sets the dial timeout and the per-operation read and
// write timeout. The default is ten minutes, long enough for a large scan.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		c.timeout = d
		return nil
	}
}

// WithChunkSize sets the upload chunk size. The default is 4096 bytes.
func WithChunkSize(n int) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("chunk size must be positive, got %d", n)
		}
		c.chunkSize = n
		return nil
	}
}

// WithClientLogger enables debug logging of scan requests and verdicts.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithClientDialer sets the dialer used to reach the agent.
func WithClientDialer(dialer *net.Dialer) ClientOption {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithUploadLimit caps upload throughput in bytes per second.
func WithUploadLimit(bytesPerSecond int64) ClientOption {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}
