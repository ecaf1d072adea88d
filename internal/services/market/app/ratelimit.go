package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// submissionGate throttles proposal submissions per specialist.
type submissionGate struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
	burst    int
}

// newSubmissionGate allows burst immediate submissions per specialist, then
// one every interval. A zero interval disables throttling.
func newSubmissionGate(interval time.Duration, burst int) *submissionGate {
	if burst <= 0 {
		burst = 1
	}
	return &submissionGate{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
		burst:    burst,
	}
}

// Allow reports whether the specialist may submit now.
func (g *submissionGate) Allow(specialistID string) bool {
	if g == nil || g.interval <= 0 {
		return true
	}
	g.mu.Lock()
	limiter, ok := g.limiters[specialistID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.interval), g.burst)
		g.limiters[specialistID] = limiter
	}
	g.mu.Unlock()
	return limiter.Allow()
}
