package ftpgate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// transfer runs one data-channel command. fn moves the bytes; the channel is
// closed when fn returns.
//
// Passive mode connects before the command is sent. Active mode sends PORT,
// then the command, then accepts. After the data connection is closed the
// completion reply is read so the control channel stays in step. If the data
// socket itself failed the completion reply is not read and the TransportError
// is returned as is.
func (c *Client) transfer(cmd Command, fn func(conn io.ReadWriter) error) error {
	if !cmd.RequiresDataChannel {
		return fmt.Errorf("ftp: %s does not use a data channel", cmd.Verb)
	}

	pending, err := c.openData()
	if err != nil {
		return err
	}

	resp, err := c.sendCommand(cmd)
	if err != nil {
		pending.Close()
		return err
	}
	if !resp.Is1xx() && !resp.Is2xx() {
		pending.Close()
		return &CommandError{Command: cmd.redacted(), Response: resp.Text(), Code: resp.Code}
	}

	raw, err := pending.accept()
	if err != nil {
		return &TransportError{Op: "accept data", Err: err}
	}
	conn := c.wrapData(raw)

	xferErr := fn(conn)
	closeErr := conn.Close()
	c.logger.Debug("ftp data channel closed", "cmd", cmd.Verb)

	var te *TransportError
	if errors.As(xferErr, &te) {
		return xferErr
	}

	// A 2xx straight away means the server already considers the transfer done.
	if resp.Is2xx() {
		return joinErrors(xferErr, closeErr)
	}

	final, err := c.readReply(cmd)
	if err != nil {
		return joinErrors(xferErr, err)
	}
	c.logger.Debug("ftp transfer complete", "cmd", cmd.Verb, "code", final.Code)
	if !final.Is2xx() {
		return joinErrors(xferErr, &CommandError{Command: cmd.redacted(), Response: final.Text(), Code: final.Code})
	}
	return joinErrors(xferErr, closeErr)
}

// joinErrors returns nil, the only error, or a multierror of all of them.
func joinErrors(errs ...error) error {
	var result *multierror.Error
	result = multierror.Append(result, errs...)
	switch len(result.Errors) {
	case 0:
		return nil
	case 1:
		return result.Errors[0]
	}
	return result
}

// copyBlocks copies src to dst in blocks of at most size bytes.
func copyBlocks(dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// chunkWriter adapts a per-chunk callback to io.Writer.
type chunkWriter func([]byte) error

func (f chunkWriter) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Store uploads r to remotePath in binary mode (TYPE I).
//
// Example:
//
//	f, err := os.Open("local.bin")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	err = client.Store("remote.bin", f)
func (c *Client) Store(remotePath string, r io.Reader) error {
	if err := c.Type(TypeBinary); err != nil {
		return err
	}
	return c.transfer(NewCommand("STOR", remotePath), func(conn io.ReadWriter) error {
		_, err := copyBlocks(conn, r, c.blockSize)
		return err
	})
}

// Retrieve downloads remotePath into w in binary mode (TYPE I).
func (c *Client) Retrieve(remotePath string, w io.Writer) error {
	if err := c.Type(TypeBinary); err != nil {
		return err
	}
	return c.transfer(NewCommand("RETR", remotePath), func(conn io.ReadWriter) error {
		_, err := copyBlocks(w, conn, c.blockSize)
		return err
	})
}

// RetrieveFunc downloads remotePath in binary mode and hands every block to fn.
// The slice is reused between calls. Returning an error from fn stops the
// transfer.
func (c *Client) RetrieveFunc(remotePath string, fn func(block []byte) error) error {
	return c.Retrieve(remotePath, chunkWriter(fn))
}

// StoreFile uploads a local file in binary mode.
func (c *Client) StoreFile(remotePath, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()

	return c.Store(remotePath, f)
}

// RetrieveFile downloads remotePath to localPath in binary mode. A partial
// local file is removed on failure.
func (c *Client) RetrieveFile(remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	err = c.Retrieve(remotePath, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return err
	}
	return nil
}

// StoreLines uploads r in ASCII mode (TYPE A). Each line, including a final
// unterminated one, is sent with a CRLF terminator.
func (c *Client) StoreLines(remotePath string, r io.Reader) error {
	if err := c.Type(TypeASCII); err != nil {
		return err
	}
	return c.transfer(NewCommand("STOR", remotePath), func(conn io.ReadWriter) error {
		br := bufio.NewReaderSize(r, c.blockSize)
		bw := bufio.NewWriterSize(conn, c.blockSize)
		for {
			line, rerr := br.ReadString('\n')
			if line != "" {
				line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
				if _, err := bw.WriteString(line + "\r\n"); err != nil {
					return err
				}
			}
			if errors.Is(rerr, io.EOF) {
				return bw.Flush()
			}
			if rerr != nil {
				return rerr
			}
		}
	})
}

// RetrieveLines downloads remotePath in ASCII mode and calls fn once per line
// with the line terminator and any trailing \r removed.
func (c *Client) RetrieveLines(remotePath string, fn func(line string) error) error {
	if err := c.Type(TypeASCII); err != nil {
		return err
	}
	return c.transfer(NewCommand("RETR", remotePath), func(conn io.ReadWriter) error {
		return readLines(conn, fn)
	})
}

// RetrieveText downloads remotePath in ASCII mode into w using \n line
// endings. A final line without a terminator is written without one.
func (c *Client) RetrieveText(remotePath string, w io.Writer) error {
	if err := c.Type(TypeASCII); err != nil {
		return err
	}
	return c.transfer(NewCommand("RETR", remotePath), func(conn io.ReadWriter) error {
		return scanLines(conn, func(line string, terminated bool) error {
			if terminated {
				line += "\n"
			}
			_, err := io.WriteString(w, line)
			return err
		})
	})
}

// readLines splits r on \n and strips a trailing \r from every line.
func readLines(r io.Reader, fn func(string) error) error {
	return scanLines(r, func(line string, _ bool) error { return fn(line) })
}

// scanLines is readLines that also reports whether each line ended in \n.
func scanLines(r io.Reader, fn func(line string, terminated bool) error) error {
	br := bufio.NewReader(r)
	for {
		line, rerr := br.ReadString('\n')
		if line != "" {
			terminated := strings.HasSuffix(line, "\n")
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if err := fn(line, terminated); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// listCommand builds LIST or NLST with an optional path.
func listCommand(verb, path string) Command {
	if path == "" {
		return NewCommand(verb)
	}
	return NewCommand(verb, path)
}

// ListFunc sends LIST and calls fn for every raw line of the listing.
func (c *Client) ListFunc(path string, fn func(line string) error) error {
	if err := c.Type(TypeASCII); err != nil {
		return err
	}
	return c.transfer(listCommand("LIST", path), func(conn io.ReadWriter) error {
		return readLines(conn, fn)
	})
}

// List returns the raw lines of a LIST of path, or of the current directory
// when path is empty.
func (c *Client) List(path string) ([]string, error) {
	var lines []string
	err := c.ListFunc(path, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// Entries lists path and parses every line into an Entry. Lines that match
// no known format are returned with Type "unknown".
func (c *Client) Entries(path string) ([]*Entry, error) {
	var entries []*Entry
	err := c.ListFunc(path, func(line string) error {
		if e := ParseEntry(line); e != nil {
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// NameList returns the names from an NLST of path.
func (c *Client) NameList(path string) ([]string, error) {
	if err := c.Type(TypeASCII); err != nil {
		return nil, err
	}
	var names []string
	err := c.transfer(listCommand("NLST", path), func(conn io.ReadWriter) error {
		return readLines(conn, func(line string) error {
			if name := strings.TrimSpace(line); name != "" {
				names = append(names, name)
			}
			return nil
		})
	})
	return names, err
}
