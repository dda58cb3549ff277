package ftpgate

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gonzalop/ftpgate/internal/ratelimit"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithTimeout sets the timeout for connecting and for every read or write on
// the control and data connections. Zero disables timeouts.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// Commands, replies and data channel events are logged at debug level.
// PASS arguments are masked.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftpgate.Dial("ftp.example.com:21", ftpgate.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for the control and passive data
// connections. Its Timeout is overwritten by WithTimeout.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithActiveMode switches data connections to active mode (PORT). The client
// listens on the control connection's local address and the server dials in.
// Only IPv4 control connections are supported in this mode.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithBlockSize sets the block size used when copying transfer data.
// The default is 8192 bytes.
func WithBlockSize(size int) Option {
	return func(c *Client) error {
		if size <= 0 {
			return fmt.Errorf("block size must be positive, got %d", size)
		}
		c.blockSize = size
		return nil
	}
}

// WithBandwidthLimit caps data channel throughput in bytes per second.
// Zero or a negative value means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}
