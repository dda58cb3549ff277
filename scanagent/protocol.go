package scanagent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"
)

// ReplySize is the fixed width of a verdict on the wire.
const ReplySize = 16

// DefaultMaxNameLength bounds the filename in a request header.
const DefaultMaxNameLength = 4096

// ErrMalformedHeader is returned when a request header cannot be accepted.
var ErrMalformedHeader = errors.New("scanagent: malformed request header")

// Request header layout, all integers big-endian:
//
//	[u32 name length][name, UTF-8][u64 body size]
//
// The body follows the header directly.

// WriteHeader writes the request header for a body of size bytes.
func WriteHeader(w io.Writer, name string, size int64) error {
	if size < 0 {
		return fmt.Errorf("scanagent: negative size %d", size)
	}
	if uint64(len(name)) > math.MaxUint32 {
		return fmt.Errorf("scanagent: name too long (%d bytes)", len(name))
	}
	buf := make([]byte, 0, 4+len(name)+8)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(size))
	_, err := w.Write(buf)
	return err
}

// readNameLength reads the 4-byte name length and checks it against max.
func readNameLength(r io.Reader, max int) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b[:])
	if uint64(n) > uint64(max) {
		return 0, fmt.Errorf("%w: name length %d exceeds %d", ErrMalformedHeader, n, max)
	}
	return int(n), nil
}

// readName reads n bytes of UTF-8 filename.
func readName(r io.Reader, n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: name is not valid UTF-8", ErrMalformedHeader)
	}
	return string(b), nil
}

// readSize reads the 8-byte body size.
func readSize(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint64(b[:])
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: size %d out of range", ErrMalformedHeader, n)
	}
	return int64(n), nil
}

// SanitizeName keeps only the last path element of name, treating both
// slash and backslash as separators. Names that reduce to nothing, "." or
// ".." become "upload".
func SanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, name)
	switch name {
	case "", ".", "..":
		return "upload"
	}
	return name
}

// EncodeVerdict renders v into the fixed reply field: space padded, or cut
// at ReplySize bytes on a rune boundary. Detail text beyond the field is lost.
func EncodeVerdict(v Verdict) [ReplySize]byte {
	var out [ReplySize]byte
	s := string(v)
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > ReplySize {
			break
		}
		copy(out[n:], s[n:n+size])
		n += size
	}
	for i := n; i < ReplySize; i++ {
		out[i] = ' '
	}
	return out
}

// DecodeVerdict trims the padding from a reply field.
func DecodeVerdict(b []byte) Verdict {
	return Verdict(strings.Trim(string(b), " \x00\r\n\t"))
}
