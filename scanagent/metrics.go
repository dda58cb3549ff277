package scanagent

import (
	"fmt"
	"time"
)

// MetricsCollector is an optional hook for agent metrics. Methods are called
// from connection handlers and must not block.
type MetricsCollector interface {
	// RecordConnection records an accepted or rejected connection.
	// reason is "accepted", "limit_reached" or "shutting_down".
	RecordConnection(accepted bool, reason string)

	// RecordUpload records a received body. complete is false when the
	// peer went away before the declared size arrived.
	RecordUpload(bytes int64, complete bool, duration time.Duration)

	// RecordScan records one scanner invocation and its verdict.
	RecordScan(verdict Verdict, duration time.Duration)
}

// WithMetrics installs a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithMaxConnections limits concurrent connections. Connections over the
// limit are closed without a verdict. Zero means no limit.
func WithMaxConnections(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("max connections must not be negative, got %d", n)
		}
		s.maxConns = n
		return nil
	}
}
