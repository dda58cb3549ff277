package ftpgate

import (
	"fmt"
	"strconv"
	"strings"
)

// CurrentDir returns the current working directory (PWD).
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.expect2xx("PWD")
	if err != nil {
		return "", err
	}
	dir, ok := quotedPath(resp.Message)
	if !ok {
		return "", &ProtocolError{Command: "PWD", Line: resp.Text(), Reason: "missing quoted path"}
	}
	return dir, nil
}

// quotedPath extracts the path from a 257 reply such as `"/home/user" is cwd`.
// Embedded quotes are doubled per RFC 959.
func quotedPath(msg string) (string, bool) {
	start := strings.IndexByte(msg, '"')
	if start == -1 {
		return "", false
	}
	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), true
	}
	return "", false
}

// ChangeDir changes the working directory (CWD).
func (c *Client) ChangeDir(path string) error {
	_, err := c.expect2xx("CWD", path)
	return err
}

// ChangeDirToParent moves to the parent directory (CDUP).
func (c *Client) ChangeDirToParent() error {
	_, err := c.expect2xx("CDUP")
	return err
}

// MakeDir creates a directory and returns the path the server reports. If the
// reply carries no quoted path, path is returned unchanged.
func (c *Client) MakeDir(path string) (string, error) {
	resp, err := c.expect2xx("MKD", path)
	if err != nil {
		return "", err
	}
	if created, ok := quotedPath(resp.Message); ok {
		return created, nil
	}
	return path, nil
}

// RemoveDir removes an empty directory.
func (c *Client) RemoveDir(path string) error {
	_, err := c.expect2xx("RMD", path)
	return err
}

// Delete deletes a file.
func (c *Client) Delete(path string) error {
	_, err := c.expect2xx("DELE", path)
	return err
}

// Rename renames a file or directory with RNFR followed by RNTO.
func (c *Client) Rename(from, to string) error {
	if _, err := c.expectCode(350, "RNFR", from); err != nil {
		return err
	}
	_, err := c.expect2xx("RNTO", to)
	return err
}

// Size returns the size of a file in bytes (SIZE).
func (c *Client) Size(path string) (int64, error) {
	resp, err := c.expectCode(213, "SIZE", path)
	if err != nil {
		return 0, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if perr != nil {
		return 0, &ProtocolError{Command: "SIZE", Line: resp.Text(), Reason: fmt.Sprintf("bad size: %v", perr)}
	}
	return size, nil
}
