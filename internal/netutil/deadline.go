// Package netutil holds small net.Conn helpers shared by the FTP client and
// the scan agent.
package netutil

import (
	"errors"
	"net"
	"os"
	"time"
)

// DeadlineConn refreshes the read or write deadline before every operation,
// so an idle peer trips a timeout instead of hanging the caller forever.
type DeadlineConn struct {
	net.Conn
	Timeout time.Duration
}

// WithDeadline wraps c. A non-positive timeout returns c unchanged.
func WithDeadline(c net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return c
	}
	return &DeadlineConn{Conn: c, Timeout: timeout}
}

func (c *DeadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *DeadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
