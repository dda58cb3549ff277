package ratelimit

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		rate    int64
		wantNil bool
	}{
		{"positive rate", 1024, false},
		{"zero means unlimited", 0, true},
		{"negative means unlimited", -5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.rate); (got == nil) != tt.wantNil {
				t.Errorf("New(%d) = %v, wantNil %v", tt.rate, got, tt.wantNil)
			}
		})
	}
}

func TestNilLimiterPassthrough(t *testing.T) {
	var buf bytes.Buffer
	if w := NewWriter(&buf, nil); w != io.Writer(&buf) {
		t.Error("NewWriter with nil limiter should return the original writer")
	}
	src := bytes.NewReader([]byte("abc"))
	if r := NewReader(src, nil); r != io.Reader(src) {
		t.Error("NewReader with nil limiter should return the original reader")
	}

	var l *Limiter
	l.Wait(1 << 20) // must not block or panic
}

func TestWriterThrottles(t *testing.T) {
	t.Parallel()
	// 4 KiB/s with a full one-second bucket: 8 KiB needs roughly one more second.
	l := New(4 * 1024)
	var buf bytes.Buffer
	w := NewWriter(&buf, l)

	start := time.Now()
	n, err := w.Write(make([]byte, 8*1024))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 8*1024 {
		t.Fatalf("Write wrote %d bytes, want %d", n, 8*1024)
	}
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("8 KiB at 4 KiB/s finished in %v, expected throttling", elapsed)
	}
}

func TestReaderDeliversAllBytes(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("x"), 20*1024)
	r := NewReader(bytes.NewReader(data), New(1<<30))
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %d bytes, want %d", len(got), len(data))
	}
}
