// Package sqlite provides the SQLite-backed audit trail. The audit_events
// table is append-only: rows are inserted, queried, and eventually purged by
// the retention sweep, never updated.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	sqlitemigrate "github.com/Casazola49/blacklist-core/internal/platform/storage/sqlitemigrate"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/record"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
	"github.com/Casazola49/blacklist-core/internal/services/audit/filter"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists audit and security events in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func encodeSnapshot(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(data), nil
}

func decodeSnapshot(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var snapshot map[string]any
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// Open opens a SQLite audit store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// AppendEvent writes one immutable audit record.
func (s *Store) AppendEvent(ctx context.Context, evt record.AuditEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	beforeJSON, err := encodeSnapshot(evt.Before)
	if err != nil {
		return err
	}
	afterJSON, err := encodeSnapshot(evt.After)
	if err != nil {
		return err
	}
	success := 0
	if evt.Success {
		success = 1
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO audit_events (
		   id, action, actor_id, resource_type, resource_id,
		   severity, category, success, before_json, after_json, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.Action, evt.ActorID, evt.ResourceType, evt.ResourceID,
		string(evt.Severity), string(evt.Category), success, beforeJSON, afterJSON,
		toMillis(evt.Timestamp))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

const auditColumns = `id, action, actor_id, resource_type, resource_id,
       severity, category, success, before_json, after_json, created_at`

func scanAuditEvent(row interface{ Scan(...any) error }) (record.AuditEvent, error) {
	var evt record.AuditEvent
	var severity, category, beforeJSON, afterJSON string
	var success int
	var createdAt int64
	err := row.Scan(&evt.ID, &evt.Action, &evt.ActorID, &evt.ResourceType, &evt.ResourceID,
		&severity, &category, &success, &beforeJSON, &afterJSON, &createdAt)
	if err != nil {
		return record.AuditEvent{}, err
	}
	evt.Severity = record.Severity(severity)
	evt.Category = record.Category(category)
	evt.Success = success != 0
	evt.Timestamp = fromMillis(createdAt)
	if evt.Before, err = decodeSnapshot(beforeJSON); err != nil {
		return record.AuditEvent{}, err
	}
	if evt.After, err = decodeSnapshot(afterJSON); err != nil {
		return record.AuditEvent{}, err
	}
	return evt, nil
}

// SearchEvents returns audit events matching the query, newest first.
func (s *Store) SearchEvents(ctx context.Context, query storage.SearchQuery) ([]record.AuditEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	condition, err := filter.Parse(query.Filter)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	sqlQuery := `SELECT ` + auditColumns + ` FROM audit_events`
	args := condition.Params
	if condition.Clause != "" {
		sqlQuery += ` WHERE ` + condition.Clause
	}
	sqlQuery += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.sqlDB.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}
	defer rows.Close()

	var events []record.AuditEvent
	for rows.Next() {
		evt, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("search audit events: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}
	return events, nil
}

// CountEventsByResource counts one action's events for a resource since the
// window start.
func (s *Store) CountEventsByResource(ctx context.Context, action, resourceID string, since time.Time) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE action = ? AND resource_id = ? AND created_at >= ?`,
		action, resourceID, toMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events by resource: %w", err)
	}
	return count, nil
}

// CountEventsByActor counts one action's events from an actor since the
// window start.
func (s *Store) CountEventsByActor(ctx context.Context, action, actorID string, since time.Time) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE action = ? AND actor_id = ? AND created_at >= ?`,
		action, actorID, toMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events by actor: %w", err)
	}
	return count, nil
}

// PurgeBefore deletes audit events older than cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return purged, nil
}

// reportTopActors is the number of actors a report names.
const reportTopActors = 5

// Report aggregates events inside the query range.
func (s *Store) Report(ctx context.Context, query storage.ReportQuery) (storage.Report, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Report{}, err
	}
	if !query.To.After(query.From) {
		return storage.Report{}, apperrors.New(apperrors.CodeAuditInvalidRange, "report range must end after it starts")
	}

	where := `created_at >= ? AND created_at < ?`
	args := []any{toMillis(query.From), toMillis(query.To)}
	if len(query.Categories) > 0 {
		where += ` AND category IN (?` + strings.Repeat(",?", len(query.Categories)-1) + `)`
		for _, category := range query.Categories {
			args = append(args, string(category))
		}
	}
	if len(query.Severities) > 0 {
		where += ` AND severity IN (?` + strings.Repeat(",?", len(query.Severities)-1) + `)`
		for _, severity := range query.Severities {
			args = append(args, string(severity))
		}
	}

	report := storage.Report{
		From:            query.From.UTC(),
		To:              query.To.UTC(),
		CountBySeverity: make(map[record.Severity]int),
		CountByCategory: make(map[record.Category]int),
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT severity, category, success, COUNT(*)
		   FROM audit_events WHERE `+where+`
		  GROUP BY severity, category, success`, args...)
	if err != nil {
		return storage.Report{}, fmt.Errorf("aggregate audit events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity, category string
		var success, count int
		if err := rows.Scan(&severity, &category, &success, &count); err != nil {
			return storage.Report{}, fmt.Errorf("aggregate audit events: %w", err)
		}
		report.TotalEvents += count
		if success == 0 {
			report.FailureCount += count
		}
		report.CountBySeverity[record.Severity(severity)] += count
		report.CountByCategory[record.Category(category)] += count
	}
	if err := rows.Err(); err != nil {
		return storage.Report{}, fmt.Errorf("aggregate audit events: %w", err)
	}

	actorRows, err := s.sqlDB.QueryContext(ctx,
		`SELECT actor_id, COUNT(*) AS events
		   FROM audit_events WHERE `+where+` AND actor_id <> ''
		  GROUP BY actor_id ORDER BY events DESC, actor_id ASC LIMIT ?`,
		append(append([]any{}, args...), reportTopActors)...)
	if err != nil {
		return storage.Report{}, fmt.Errorf("aggregate actor activity: %w", err)
	}
	defer actorRows.Close()
	for actorRows.Next() {
		var activity storage.ActorActivity
		if err := actorRows.Scan(&activity.ActorID, &activity.Events); err != nil {
			return storage.Report{}, fmt.Errorf("aggregate actor activity: %w", err)
		}
		report.TopActors = append(report.TopActors, activity)
	}
	if err := actorRows.Err(); err != nil {
		return storage.Report{}, fmt.Errorf("aggregate actor activity: %w", err)
	}
	return report, nil
}

// CreateSecurityEvent writes one detected anomaly.
func (s *Store) CreateSecurityEvent(ctx context.Context, evt security.SecurityEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	detailJSON, err := encodeSnapshot(evt.Detail)
	if err != nil {
		return err
	}
	resolved := 0
	if evt.Resolved {
		resolved = 1
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO security_events (
		   id, type, rule, subject_id, actor_id, risk, detail_json, resolved, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.Type, evt.Rule, evt.SubjectID, evt.ActorID,
		string(evt.Risk), detailJSON, resolved, toMillis(evt.Timestamp))
	if err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

// HasRecentSecurityEvent reports whether the rule already fired for the
// subject since the window start.
func (s *Store) HasRecentSecurityEvent(ctx context.Context, rule, subjectID string, since time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE rule = ? AND subject_id = ? AND created_at >= ?`,
		rule, subjectID, toMillis(since)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check recent security events: %w", err)
	}
	return count > 0, nil
}

// ListSecurityEvents returns anomalies, newest first.
func (s *Store) ListSecurityEvents(ctx context.Context, onlyUnresolved bool, limit int) ([]security.SecurityEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, type, rule, subject_id, actor_id, risk, detail_json, resolved, created_at
	            FROM security_events`
	if onlyUnresolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.sqlDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var events []security.SecurityEvent
	for rows.Next() {
		var evt security.SecurityEvent
		var risk, detailJSON string
		var resolved int
		var createdAt int64
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.Rule, &evt.SubjectID, &evt.ActorID,
			&risk, &detailJSON, &resolved, &createdAt); err != nil {
			return nil, fmt.Errorf("list security events: %w", err)
		}
		evt.Risk = security.RiskLevel(risk)
		evt.Resolved = resolved != 0
		evt.Timestamp = fromMillis(createdAt)
		if evt.Detail, err = decodeSnapshot(detailJSON); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}

// ResolveSecurityEvent marks one anomaly reviewed.
func (s *Store) ResolveSecurityEvent(ctx context.Context, eventID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE security_events SET resolved = 1 WHERE id = ? AND resolved = 0`, eventID)
	if err != nil {
		return false, fmt.Errorf("resolve security event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve security event: %w", err)
	}
	return affected > 0, nil
}

var _ storage.Store = (*Store)(nil)
