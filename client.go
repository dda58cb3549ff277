package ftpgate

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gonzalop/ftpgate/internal/ratelimit"
)

// Transfer types accepted by Client.Type.
const (
	TypeASCII  = "A"
	TypeBinary = "I"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultBlockSize = 8192
)

// Client is one FTP control session. It owns the control connection and opens
// a data connection per transfer. A Client is not safe for concurrent use:
// FTP is strictly one command at a time, so callers must serialize access.
type Client struct {
	// conn is the control connection; nil once the session is closed.
	conn net.Conn

	// reader buffers the control connection.
	reader *bufio.Reader

	host string
	port string

	timeout   time.Duration
	blockSize int
	logger    *slog.Logger
	dialer    *net.Dialer
	limiter   *ratelimit.Limiter

	// activeMode selects PORT instead of PASV.
	activeMode bool

	// currentType tracks the transfer type to avoid redundant TYPE commands.
	currentType string

	welcome      string
	lastResponse string
}

// Dial connects to an FTP server at addr ("host:port") and reads the greeting.
//
// Example:
//
//	client, err := ftpgate.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("demo", "password"); err != nil {
//	    log.Fatal(err)
//	}
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	c := &Client{
		host:      host,
		port:      port,
		timeout:   defaultTimeout,
		blockSize: defaultBlockSize,
		dialer:    &net.Dialer{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Copy so a dialer passed to WithDialer is never modified.
	dialer := *c.dialer
	dialer.Timeout = c.timeout
	c.dialer = &dialer

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect is Dial with the host, port and timeout given separately.
func Connect(host string, port int, timeout time.Duration, options ...Option) (*Client, error) {
	options = append([]Option{WithTimeout(timeout)}, options...)
	return Dial(net.JoinHostPort(host, strconv.Itoa(port)), options...)
}

// connect opens the control connection and consumes the greeting.
func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	c.logger.Debug("connecting to ftp server", "addr", addr)

	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return &TransportError{Op: "dial " + addr, Err: err}
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	greeting := Command{Verb: "CONNECT"}
	resp, err := c.readReply(greeting)
	// 120 means "ready in n minutes"; the real greeting follows.
	for err == nil && resp.Is1xx() {
		resp, err = c.readReply(greeting)
	}
	if err != nil {
		c.Close()
		return err
	}

	c.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)
	if resp.Code != 220 {
		c.Close()
		return &CommandError{Command: greeting.Verb, Response: resp.Text(), Code: resp.Code}
	}
	c.welcome = resp.Message
	return nil
}

// Welcome returns the server greeting, without reply codes.
func (c *Client) Welcome() string {
	return c.welcome
}

// LastResponse returns the terminating line of the most recent reply.
func (c *Client) LastResponse() string {
	return c.lastResponse
}

// Login authenticates with USER and, when the server asks for it, PASS.
func (c *Client) Login(username, password string) error {
	cmd := NewCommand("USER", username)
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return err
	}

	// 230: no password required.
	if resp.Is2xx() {
		return nil
	}
	if !resp.Is3xx() {
		return &CommandError{Command: cmd.redacted(), Response: resp.Text(), Code: resp.Code}
	}

	_, err = c.expect2xx("PASS", password)
	return err
}

// Quit sends QUIT and closes the control connection. Calling Quit on a
// closed session is a no-op.
func (c *Client) Quit() error {
	if c.conn == nil {
		return nil
	}
	// The connection is closing anyway; a failed QUIT changes nothing.
	_, _ = c.sendCommand(NewCommand("QUIT"))
	return c.Close()
}

// Close drops the control connection without sending QUIT.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Type sets the transfer type, TypeASCII or TypeBinary.
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		c.logger.Debug("transfer type already set, skipping TYPE command", "type", transferType)
		return nil
	}
	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Noop sends NOOP. It is a cheap way to check the session is alive.
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Quote sends a raw command and returns its reply. 4xx and 5xx replies are
// returned as a *CommandError along with the response. Commands that need a
// data channel (LIST, RETR, STOR, ...) are refused with ErrDataCommand since
// sending them without one would desynchronize the session.
//
// Example:
//
//	resp, err := client.Quote("SITE", "CHMOD", "755", "script.sh")
func (c *Client) Quote(verb string, args ...string) (*Response, error) {
	cmd := NewCommand(verb, args...)
	if cmd.RequiresDataChannel {
		return nil, fmt.Errorf("%w: %s", ErrDataCommand, cmd.Verb)
	}
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return nil, err
	}
	return resp, classify(cmd, resp)
}
