package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/record"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage"
	marketstorage "github.com/Casazola49/blacklist-core/internal/services/market/storage"
)

// memAudit is an in-memory storage.Store. SearchEvents ignores the filter
// expression; filter translation is covered by the sqlite store tests.
type memAudit struct {
	events   []record.AuditEvent
	security []security.SecurityEvent
}

func newMemAudit() *memAudit {
	return &memAudit{}
}

func (m *memAudit) AppendEvent(_ context.Context, evt record.AuditEvent) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *memAudit) SearchEvents(_ context.Context, query storage.SearchQuery) ([]record.AuditEvent, error) {
	events := make([]record.AuditEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		events = append(events, m.events[i])
	}
	if query.Offset > 0 {
		if query.Offset >= len(events) {
			return nil, nil
		}
		events = events[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(events) {
		events = events[:query.Limit]
	}
	return events, nil
}

func (m *memAudit) CountEventsByResource(_ context.Context, action, resourceID string, since time.Time) (int, error) {
	count := 0
	for _, evt := range m.events {
		if evt.Action == action && evt.ResourceID == resourceID && !evt.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memAudit) CountEventsByActor(_ context.Context, action, actorID string, since time.Time) (int, error) {
	count := 0
	for _, evt := range m.events {
		if evt.Action == action && evt.ActorID == actorID && !evt.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memAudit) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []record.AuditEvent
	var purged int64
	for _, evt := range m.events {
		if evt.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, evt)
	}
	m.events = kept
	return purged, nil
}

func (m *memAudit) Report(_ context.Context, query storage.ReportQuery) (storage.Report, error) {
	report := storage.Report{
		From:            query.From,
		To:              query.To,
		CountBySeverity: make(map[record.Severity]int),
		CountByCategory: make(map[record.Category]int),
	}
	for _, evt := range m.events {
		if evt.Timestamp.Before(query.From) || !evt.Timestamp.Before(query.To) {
			continue
		}
		report.TotalEvents++
		if !evt.Success {
			report.FailureCount++
		}
		report.CountBySeverity[evt.Severity]++
		report.CountByCategory[evt.Category]++
	}
	return report, nil
}

func (m *memAudit) CreateSecurityEvent(_ context.Context, evt security.SecurityEvent) error {
	m.security = append(m.security, evt)
	return nil
}

func (m *memAudit) HasRecentSecurityEvent(_ context.Context, rule, subjectID string, since time.Time) (bool, error) {
	for _, evt := range m.security {
		if evt.Rule == rule && evt.SubjectID == subjectID && !evt.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAudit) ListSecurityEvents(_ context.Context, onlyUnresolved bool, limit int) ([]security.SecurityEvent, error) {
	var events []security.SecurityEvent
	for i := len(m.security) - 1; i >= 0; i-- {
		if onlyUnresolved && m.security[i].Resolved {
			continue
		}
		events = append(events, m.security[i])
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func (m *memAudit) ResolveSecurityEvent(_ context.Context, eventID string) (bool, error) {
	for i := range m.security {
		if m.security[i].ID == eventID {
			if m.security[i].Resolved {
				return false, nil
			}
			m.security[i].Resolved = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memAudit) Close() error { return nil }

func (m *memAudit) countAction(action string) int {
	count := 0
	for _, evt := range m.events {
		if evt.Action == action {
			count++
		}
	}
	return count
}

var _ storage.Store = (*memAudit)(nil)

// flakyAudit fails the first failures appends, then delegates.
type flakyAudit struct {
	*memAudit
	failures int
	attempts int
}

func (f *flakyAudit) AppendEvent(ctx context.Context, evt record.AuditEvent) error {
	f.attempts++
	if f.attempts <= f.failures {
		return fmt.Errorf("append attempt %d failed", f.attempts)
	}
	return f.memAudit.AppendEvent(ctx, evt)
}

// testGuard authorizes a fixed admin or fails with a fixed error.
type testGuard struct {
	actor marketstorage.Actor
	err   error
}

func (g testGuard) RequireAdmin(context.Context) (marketstorage.Actor, error) {
	if g.err != nil {
		return marketstorage.Actor{}, g.err
	}
	return g.actor, nil
}

// memSuspender counts suspension calls per actor; only the first changes
// state.
type memSuspender struct {
	calls map[string]int
}

func newMemSuspender() *memSuspender {
	return &memSuspender{calls: make(map[string]int)}
}

func (s *memSuspender) SuspendActor(_ context.Context, actorID, _ string, _ time.Time) (bool, error) {
	s.calls[actorID]++
	return s.calls[actorID] == 1, nil
}
