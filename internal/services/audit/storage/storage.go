// Package storage defines persistence contracts for the audit service.
package storage

import (
	"context"
	"time"

	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/record"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
)

// SearchQuery selects audit events for the admin read paths. Filter is an
// AIP-160 expression over action, actor_id, resource_type, resource_id,
// severity, category, success, and ts.
type SearchQuery struct {
	Filter string
	Limit  int
	Offset int
}

// Report aggregates audit events over a date range.
type Report struct {
	From            time.Time
	To              time.Time
	TotalEvents     int
	FailureCount    int
	CountBySeverity map[record.Severity]int
	CountByCategory map[record.Category]int
	TopActors       []ActorActivity
}

// ActorActivity is one actor's event count inside a report range.
type ActorActivity struct {
	ActorID string
	Events  int
}

// ReportQuery bounds a report. Categories and Severities narrow the
// aggregation when non-empty.
type ReportQuery struct {
	From       time.Time
	To         time.Time
	Categories []record.Category
	Severities []record.Severity
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	AppendEvent(ctx context.Context, evt record.AuditEvent) error
	SearchEvents(ctx context.Context, query SearchQuery) ([]record.AuditEvent, error)
	// CountEventsByResource counts events with the given action touching one
	// resource since the window start.
	CountEventsByResource(ctx context.Context, action, resourceID string, since time.Time) (int, error)
	// CountEventsByActor counts events with the given action from one actor
	// since the window start.
	CountEventsByActor(ctx context.Context, action, actorID string, since time.Time) (int, error)
	// PurgeBefore deletes events older than cutoff, returning the count.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Report(ctx context.Context, query ReportQuery) (Report, error)
}

// SecurityStore persists detected anomalies.
type SecurityStore interface {
	CreateSecurityEvent(ctx context.Context, evt security.SecurityEvent) error
	// HasRecentSecurityEvent reports whether the rule already fired for the
	// subject since the window start. Deduplication keeps one anomaly per
	// rule and subject per window.
	HasRecentSecurityEvent(ctx context.Context, rule, subjectID string, since time.Time) (bool, error)
	ListSecurityEvents(ctx context.Context, onlyUnresolved bool, limit int) ([]security.SecurityEvent, error)
	// ResolveSecurityEvent marks an anomaly reviewed; repeats are no-ops.
	ResolveSecurityEvent(ctx context.Context, eventID string) (bool, error)
}

// Store aggregates the audit persistence contracts.
type Store interface {
	AuditStore
	SecurityStore
	Close() error
}
