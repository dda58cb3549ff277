package scanagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
)

// Verdict is the text an agent returns for one scan. Only the first
// ReplySize bytes reach the client.
type Verdict string

// Fixed verdict vocabulary.
const (
	VerdictOK              Verdict = "OK"
	VerdictInfected        Verdict = "INFECTED"
	VerdictFileNotFound    Verdict = "ERROR_FILE_NOT_FOUND"
	VerdictScannerNotFound Verdict = "CLAMAV_NOT_FOUND"
)

// ScanError builds a verdict for a scanner that ran but failed.
func ScanError(detail string) Verdict {
	return Verdict("SCAN_ERROR: " + strings.TrimSpace(detail))
}

// UnknownScanError builds a verdict for a failure to run the scanner at all.
func UnknownScanError(err error) Verdict {
	return Verdict("UNKNOWN_SCAN_ERROR: " + err.Error())
}

// Clean reports whether the verdict means no threat was found.
func (v Verdict) Clean() bool {
	return strings.HasPrefix(string(v), string(VerdictOK))
}

// Scanner inspects one file on local disk. Implementations never return an
// error; every failure is expressed as a Verdict.
type Scanner interface {
	Scan(ctx context.Context, path string) Verdict
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, path string) Verdict

func (f ScannerFunc) Scan(ctx context.Context, path string) Verdict {
	return f(ctx, path)
}

// DefaultScannerPath is the command run by CommandScanner when Path is empty.
const DefaultScannerPath = "clamscan"

// waitDelay bounds how long a killed scanner's children may hold stderr open.
const waitDelay = 5 * time.Second

// CommandScanner runs an external scanner once per file. The process exit
// code carries the verdict: 0 clean, 1 infected, anything else an error.
// Each call spawns its own process, so a CommandScanner is safe for
// concurrent use.
type CommandScanner struct {
	// Path is the scanner executable. Defaults to DefaultScannerPath.
	Path string
	// Args precede the file path. Nil means "--no-summary".
	Args []string
}

func (s *CommandScanner) Scan(ctx context.Context, path string) Verdict {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return VerdictFileNotFound
		}
		return UnknownScanError(err)
	}

	bin := s.Path
	if bin == "" {
		bin = DefaultScannerPath
	}
	args := s.Args
	if args == nil {
		args = []string{"--no-summary"}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, append(append([]string{}, args...), path)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	err := cmd.Run()
	if err == nil {
		return VerdictOK
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return VerdictScannerNotFound
	case ctx.Err() != nil:
		return UnknownScanError(ctx.Err())
	case errors.As(err, &exitErr):
		if exitErr.ExitCode() == 1 {
			return VerdictInfected
		}
		if stderr.Len() == 0 {
			return ScanError(exitErr.Error())
		}
		return ScanError(stderr.String())
	default:
		return UnknownScanError(err)
	}
}

// ClamdScanner asks a running clamd daemon to scan the file. Addr takes the
// forms understood by go-clamd: "tcp://host:port" or a unix socket path.
// The daemon must be able to read the agent's temp directory.
type ClamdScanner struct {
	Addr string
}

func (s *ClamdScanner) Scan(ctx context.Context, path string) Verdict {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return VerdictFileNotFound
		}
		return UnknownScanError(err)
	}

	type outcome struct {
		v   Verdict
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := s.scan(path)
		done <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		return UnknownScanError(ctx.Err())
	case o := <-done:
		if o.err != nil {
			return UnknownScanError(o.err)
		}
		return o.v
	}
}

func (s *ClamdScanner) scan(path string) (Verdict, error) {
	c := clamd.NewClamd(s.Addr)
	results, err := c.ScanFile(path)
	if err != nil {
		return "", fmt.Errorf("clamd: %w", err)
	}

	verdict := VerdictOK
	for r := range results {
		switch r.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			verdict = VerdictInfected
		default:
			if verdict != VerdictInfected {
				verdict = ScanError(r.Description)
			}
		}
	}
	return verdict, nil
}

// Ping checks that the daemon answers.
func (s *ClamdScanner) Ping() error {
	return clamd.NewClamd(s.Addr).Ping()
}
