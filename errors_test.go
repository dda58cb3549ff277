package ftpgate

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
)

func TestCommandErrorClasses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code          int
		wantTemporary bool
		wantPermanent bool
	}{
		{421, true, false},
		{450, true, false},
		{500, false, true},
		{550, false, true},
		{331, false, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("upload: %w", &CommandError{Command: "STOR x", Response: "x", Code: tt.code})
		if got := errors.Is(err, ErrTemporary); got != tt.wantTemporary {
			t.Errorf("code %d: errors.Is(ErrTemporary) = %v", tt.code, got)
		}
		if got := errors.Is(err, ErrPermanent); got != tt.wantPermanent {
			t.Errorf("code %d: errors.Is(ErrPermanent) = %v", tt.code, got)
		}
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	timeout := &TransportError{Op: "read PWD", Err: &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}}
	if !timeout.Timeout() {
		t.Error("deadline expiry should report Timeout()")
	}
	if !errors.Is(timeout, os.ErrDeadlineExceeded) {
		t.Error("TransportError should unwrap to the underlying error")
	}

	closed := &TransportError{Op: "read PWD", Err: io.EOF}
	if closed.Timeout() {
		t.Error("EOF is not a timeout")
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	t.Parallel()
	err := &ProtocolError{Command: "PASV", Line: "227 nope", Reason: "expected (h1,h2,h3,h4,p1,p2)"}
	want := `ftp: PASV: malformed reply "227 nope": expected (h1,h2,h3,h4,p1,p2)`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
