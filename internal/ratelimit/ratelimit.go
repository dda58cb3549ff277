// Package ratelimit throttles byte streams with a token bucket.
//
// It is used to cap the bandwidth of FTP data channels and of uploads to a
// scan agent. A nil *Limiter means "unlimited" everywhere in this package.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// maxWait bounds a single sleep so a tiny rate cannot stall a caller for minutes.
const maxWait = time.Second

// Limiter is a token bucket refilled at a fixed number of bytes per second.
// The bucket holds at most one second worth of tokens.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time
}

// New returns a limiter for bytesPerSecond, or nil when the rate is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	r := float64(bytesPerSecond)
	return &Limiter{rate: r, tokens: r, last: time.Now()}
}

// refill must be called with mu held.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now
}

// Wait blocks until n bytes may pass.
func (l *Limiter) Wait(n int) {
	if l == nil || n <= 0 {
		return
	}
	need := float64(n)

	l.mu.Lock()
	l.refill(time.Now())
	if l.tokens >= need {
		l.tokens -= need
		l.mu.Unlock()
		return
	}
	d := time.Duration((need - l.tokens) / l.rate * float64(time.Second))
	l.mu.Unlock()

	time.Sleep(min(d, maxWait))

	l.mu.Lock()
	l.refill(time.Now())
	l.tokens = max(l.tokens-need, 0)
	l.mu.Unlock()
}

// chunk is the largest slice charged against the bucket in one step.
const chunk = 8 * 1024

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader returns r throttled by l. A nil limiter returns r unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) > chunk {
		p = p[:chunk]
	}
	r.l.Wait(len(p))
	return r.r.Read(p)
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter returns w throttled by l. A nil limiter returns w unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		end := min(written+chunk, len(p))
		w.l.Wait(end - written)
		n, err := w.w.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
