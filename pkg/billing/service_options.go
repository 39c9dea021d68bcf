package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithFreshnessWindow overrides the interval during which a cached snapshot
// is served without a provider re-fetch. Defaults to 5 minutes.
func WithFreshnessWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithProviderTimeout bounds every outbound provider call made by a command.
// A timed-out call fails the command; it is never retried automatically.
// Defaults to 15 seconds.
func WithProviderTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces the time source. Intended for tests that need a fixed
// notion of now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}
