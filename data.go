package ftpgate

import (
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/gonzalop/ftpgate/internal/netutil"
	"github.com/gonzalop/ftpgate/internal/ratelimit"
)

// pasvRegex matches the tuple of a PASV reply: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2).
var pasvRegex = regexp.MustCompile(`\((\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3})\)`)

// parsePASV extracts the data address from a PASV reply.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1", 50069 (195*256 + 149)
func parsePASV(reply string) (string, int, error) {
	m := pasvRegex.FindStringSubmatch(reply)
	if m == nil {
		return "", 0, &ProtocolError{Command: "PASV", Line: reply, Reason: "expected (h1,h2,h3,h4,p1,p2)"}
	}

	var b [6]int
	for i := range b {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v > 255 {
			return "", 0, &ProtocolError{Command: "PASV", Line: reply, Reason: "tuple value out of range"}
		}
		b[i] = v
	}

	host := fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
	return host, b[4]*256 + b[5], nil
}

// formatPORT encodes a TCP address as a PORT argument.
// Converts 192.168.1.100:50000 to "192,168,1,100,195,80".
func formatPORT(addr *net.TCPAddr) (string, error) {
	ip := addr.IP.To4()
	if ip == nil {
		return "", fmt.Errorf("ftp: PORT requires an IPv4 address, got %s", addr.IP)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], addr.Port/256, addr.Port%256), nil
}

// pendingData is a data channel that has been negotiated but not necessarily
// connected yet. Passive channels are already connected; active channels
// connect when the server dials back after the transfer command.
type pendingData interface {
	accept() (net.Conn, error)
	Close() error
}

type passiveData struct {
	conn net.Conn
}

func (p *passiveData) accept() (net.Conn, error) { return p.conn, nil }
func (p *passiveData) Close() error              { return p.conn.Close() }

type activeData struct {
	listener *net.TCPListener
	timeout  time.Duration
}

// accept waits for the server's inbound connection. The listener is closed
// whether or not a connection arrives.
func (a *activeData) accept() (net.Conn, error) {
	defer a.listener.Close()
	if a.timeout > 0 {
		if err := a.listener.SetDeadline(time.Now().Add(a.timeout)); err != nil {
			return nil, err
		}
	}
	return a.listener.Accept()
}

func (a *activeData) Close() error { return a.listener.Close() }

// openData negotiates a data channel for the next transfer command.
func (c *Client) openData() (pendingData, error) {
	if c.activeMode {
		return c.openActive()
	}
	return c.openPassive()
}

// openPassive sends PASV and connects to the advertised address.
func (c *Client) openPassive() (pendingData, error) {
	resp, err := c.expect2xx("PASV")
	if err != nil {
		return nil, err
	}

	host, port, err := parsePASV(resp.Text())
	if err != nil {
		return nil, err
	}
	// Servers behind NAT sometimes advertise the unspecified address.
	if host == "0.0.0.0" {
		host = c.host
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial data " + addr, Err: err}
	}
	c.logger.Debug("ftp data channel connected", "mode", "passive", "addr", addr)
	return &passiveData{conn: conn}, nil
}

// openActive listens on the control connection's local address and sends PORT.
// The caller issues the transfer command and only then calls accept.
func (c *Client) openActive() (pendingData, error) {
	local, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("ftp: active mode needs a TCP control connection")
	}

	l, err := net.ListenTCP("tcp", &net.TCPAddr{IP: local.IP})
	if err != nil {
		return nil, &TransportError{Op: "listen data", Err: err}
	}

	arg, err := formatPORT(l.Addr().(*net.TCPAddr))
	if err != nil {
		l.Close()
		return nil, err
	}
	if _, err := c.expect2xx("PORT", arg); err != nil {
		l.Close()
		return nil, err
	}
	c.logger.Debug("ftp data channel listening", "mode", "active", "addr", l.Addr().String())
	return &activeData{listener: l, timeout: c.timeout}, nil
}

// dataConn applies the client's timeout and bandwidth limit to a data
// connection and reports socket failures as TransportErrors. io.EOF passes
// through unchanged.
type dataConn struct {
	net.Conn
	r io.Reader
	w io.Writer
}

func (c *Client) wrapData(conn net.Conn) *dataConn {
	conn = netutil.WithDeadline(conn, c.timeout)
	return &dataConn{
		Conn: conn,
		r:    ratelimit.NewReader(conn, c.limiter),
		w:    ratelimit.NewWriter(conn, c.limiter),
	}
}

func (d *dataConn) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &TransportError{Op: "read data", Err: err}
	}
	return n, err
}

func (d *dataConn) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		err = &TransportError{Op: "write data", Err: err}
	}
	return n, err
}
