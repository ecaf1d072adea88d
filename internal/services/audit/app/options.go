package app

import (
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/id"
)

type settings struct {
	now     func() time.Time
	newID   func() (string, error)
	backoff time.Duration
}

func defaultSettings() settings {
	return settings{
		now:     time.Now,
		newID:   id.NewID,
		backoff: 50 * time.Millisecond,
	}
}

// Option adjusts service construction, primarily for tests.
type Option func(*settings)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(s *settings) {
		if generate != nil {
			s.newID = generate
		}
	}
}

// WithRetryBackoff overrides the pause between append attempts.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(s *settings) {
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}
