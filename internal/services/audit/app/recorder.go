// Package app wires the audit recorder, the anomaly detector, and the admin
// read paths on top of the audit storage contracts.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/record"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage"
)

// appendAttempts bounds the retry loop for one audit append. The publisher
// never waits on us, so a store that stays down loses the record after the
// final attempt and the bus logs the failure.
const appendAttempts = 3

// Recorder subscribes to the domain event bus and appends one audit record
// per published event.
type Recorder struct {
	store     storage.AuditStore
	retention time.Duration
	settings  settings
}

// NewRecorder creates a recorder. A retention of zero disables the purge
// sweep.
func NewRecorder(store storage.AuditStore, retention time.Duration, opts ...Option) *Recorder {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Recorder{store: store, retention: retention, settings: s}
}

// Handle implements events.Handler.
func (r *Recorder) Handle(ctx context.Context, evt events.Event) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("recorder is not configured")
	}
	rec, err := record.FromDomainEvent(evt, r.settings.newID)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 && r.settings.backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.settings.backoff):
			}
		}
		if lastErr = r.store.AppendEvent(ctx, rec); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("append audit record for %s after %d attempts: %w", evt.Name, appendAttempts, lastErr)
}

// SweepExpired deletes audit records older than the retention window and
// returns how many were purged.
func (r *Recorder) SweepExpired(ctx context.Context) (int64, error) {
	if r == nil || r.store == nil {
		return 0, fmt.Errorf("recorder is not configured")
	}
	if r.retention <= 0 {
		return 0, nil
	}
	return r.store.PurgeBefore(ctx, r.settings.now().Add(-r.retention))
}

var _ events.Handler = (*Recorder)(nil)
