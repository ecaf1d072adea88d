package app

import (
	"time"

	"golang.org/x/text/language"

	"github.com/Casazola49/blacklist-core/internal/platform/id"
)

// settings carries the injectable parts of an app service.
type settings struct {
	now    func() time.Time
	newID  func() (string, error)
	locale language.Tag
}

func defaultSettings() settings {
	return settings{
		now:    time.Now,
		newID:  id.NewID,
		locale: language.Spanish,
	}
}

// Option adjusts an app service.
type Option func(*settings)

// WithClock injects a deterministic time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator injects a deterministic identifier source.
func WithIDGenerator(generate func() (string, error)) Option {
	return func(s *settings) {
		if generate != nil {
			s.newID = generate
		}
	}
}

// WithLocale sets the notification language.
func WithLocale(tag language.Tag) Option {
	return func(s *settings) {
		s.locale = tag
	}
}
