package ftpgate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Response is one complete server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550).
	Code int

	// Message is the text of all lines with the code prefixes removed.
	Message string

	// Lines holds every raw line, the terminating line last.
	Lines []string
}

// Text returns the terminating line of the reply, e.g. "211 End" for a
// multi-line FEAT reply.
func (r *Response) Text() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[len(r.Lines)-1]
}

// Is1xx returns true for preliminary replies.
func (r *Response) Is1xx() bool { return r.Code >= 100 && r.Code < 200 }

// Is2xx returns true for completion replies.
func (r *Response) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }

// Is3xx returns true for intermediate replies.
func (r *Response) Is3xx() bool { return r.Code >= 300 && r.Code < 400 }

// Is4xx returns true for temporary failures.
func (r *Response) Is4xx() bool { return r.Code >= 400 && r.Code < 500 }

// Is5xx returns true for permanent failures.
func (r *Response) Is5xx() bool { return r.Code >= 500 && r.Code < 600 }

// String returns the full reply.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readLine reads one line and strips the line terminator. EOF in the middle
// of a line is a ProtocolError; any other read failure is returned as is.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", &ProtocolError{Line: line, Reason: "connection closed before end of line"}
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readResponse reads a complete reply.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"211-Features\r\n"
//	" UTF8\r\n"
//	"211 End\r\n"
//
// The reply ends at the first line that starts with the opening code followed
// by a space. Every other line is a continuation.
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) < 3 {
		return nil, &ProtocolError{Line: line, Reason: "reply too short"}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return nil, &ProtocolError{Line: line, Reason: "non-numeric reply code"}
	}

	lines := []string{line}
	if len(line) == 3 || line[3] == ' ' {
		return &Response{Code: code, Message: messageOf(line), Lines: lines}, nil
	}
	if line[3] != '-' {
		return nil, &ProtocolError{Line: line, Reason: "expected space or dash after code"}
	}

	final := line[:3] + " "
	for {
		line, err = readLine(r)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, final) || line == final[:3] {
			break
		}
	}

	msgs := make([]string, 0, len(lines))
	for _, l := range lines {
		msgs = append(msgs, messageOf(l))
	}
	return &Response{Code: code, Message: strings.Join(msgs, "\n"), Lines: lines}, nil
}

// messageOf strips a "DDD " or "DDD-" prefix if present.
func messageOf(line string) string {
	if len(line) >= 4 && isDigits(line[:3]) && (line[3] == ' ' || line[3] == '-') {
		return line[4:]
	}
	if len(line) == 3 && isDigits(line) {
		return ""
	}
	return strings.TrimLeft(line, " ")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// sendCommand writes cmd and reads its reply. It does not classify the reply.
func (c *Client) sendCommand(cmd Command) (*Response, error) {
	if c.conn == nil {
		return nil, ErrSessionClosed
	}

	c.logger.Debug("ftp command", "cmd", cmd.redacted())

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, c.fail("write "+cmd.Verb, err)
		}
	}
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, c.fail("write "+cmd.Verb, err)
	}

	return c.readReply(cmd)
}

// readReply reads one reply for cmd, records it as the last response and logs it.
func (c *Client) readReply(cmd Command) (*Response, error) {
	if c.conn == nil {
		return nil, ErrSessionClosed
	}
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, c.fail("read "+cmd.Verb, err)
		}
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Command = cmd.redacted()
			return nil, pe
		}
		return nil, c.fail("read "+cmd.Verb, err)
	}

	c.lastResponse = resp.Text()
	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// fail closes the control connection and wraps err as a TransportError.
// Every later call returns ErrSessionClosed.
func (c *Client) fail(op string, err error) error {
	c.logger.Debug("ftp session lost", "op", op, "error", err)
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return &TransportError{Op: op, Err: err}
}

// classify turns 4xx and 5xx replies into a CommandError.
func classify(cmd Command, resp *Response) error {
	if resp.Is4xx() || resp.Is5xx() {
		return &CommandError{Command: cmd.redacted(), Response: resp.Text(), Code: resp.Code}
	}
	return nil
}

// expectCode sends a command and requires an exact reply code.
func (c *Client) expectCode(code int, verb string, args ...string) (*Response, error) {
	cmd := NewCommand(verb, args...)
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Code != code {
		return resp, &CommandError{Command: cmd.redacted(), Response: resp.Text(), Code: resp.Code}
	}
	return resp, nil
}

// expect2xx sends a command and requires a completion reply.
func (c *Client) expect2xx(verb string, args ...string) (*Response, error) {
	cmd := NewCommand(verb, args...)
	resp, err := c.sendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, &CommandError{Command: cmd.redacted(), Response: resp.Text(), Code: resp.Code}
	}
	return resp, nil
}
