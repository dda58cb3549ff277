package ftpgate

import (
	"errors"
	"fmt"

	"github.com/gonzalop/ftpgate/internal/netutil"
)

var (
	// ErrTemporary matches any CommandError carrying a 4xx reply.
	ErrTemporary = errors.New("ftp: temporary command failure")

	// ErrPermanent matches any CommandError carrying a 5xx reply.
	ErrPermanent = errors.New("ftp: permanent command failure")

	// ErrSessionClosed is returned once the control connection is gone,
	// either after Quit or after a TransportError.
	ErrSessionClosed = errors.New("ftp: session closed")

	// ErrDataCommand is returned by Quote for verbs that need a data channel.
	ErrDataCommand = errors.New("ftp: command requires a data channel")
)

// TransportError reports a socket-level failure: refused, reset, closed or
// timed out. A TransportError on the control connection ends the session.
type TransportError struct {
	// Op describes what was being done, e.g. "dial", "write USER", "read data".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ftp: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	return netutil.IsTimeout(e.Err)
}

// ProtocolError reports a reply that could not be parsed: a non-numeric code,
// a line cut short by EOF, or a PASV tuple of the wrong shape. It aborts the
// current operation only.
type ProtocolError struct {
	Command string
	Line    string
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("ftp: malformed reply %q: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("ftp: %s: malformed reply %q: %s", e.Command, e.Line, e.Reason)
}

// CommandError is a well-formed reply the server used to refuse a command.
// The session stays usable.
type CommandError struct {
	// Command is the command that was sent (e.g., "STOR file.txt").
	Command string

	// Response is the final reply line (e.g., "550 Permission denied").
	Response string

	// Code is the numeric reply code (e.g., 550).
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s", e.Command, e.Response)
}

// IsTemporary returns true for 4xx replies. Callers may retry these.
func (e *CommandError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true for 5xx replies.
func (e *CommandError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

// Is lets errors.Is match ErrTemporary and ErrPermanent.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrTemporary:
		return e.IsTemporary()
	case ErrPermanent:
		return e.IsPermanent()
	}
	return false
}
