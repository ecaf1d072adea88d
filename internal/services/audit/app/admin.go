package app

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/record"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage"
	marketstorage "github.com/Casazola49/blacklist-core/internal/services/market/storage"
)

// AdminGuard authorizes admin calls. The market Guard satisfies it.
type AdminGuard interface {
	RequireAdmin(ctx context.Context) (marketstorage.Actor, error)
}

// Admin exposes the audit trail to authorized administrators. Every read or
// maintenance call itself leaves an admin_action record.
type Admin struct {
	store    storage.Store
	guard    AdminGuard
	recorder *Recorder
	bus      *events.Bus
	settings settings
}

// NewAdmin creates the admin surface over the audit store.
func NewAdmin(store storage.Store, guard AdminGuard, recorder *Recorder, bus *events.Bus, opts ...Option) *Admin {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Admin{store: store, guard: guard, recorder: recorder, bus: bus, settings: s}
}

// SearchAuditLogs returns audit records matching the filter expression.
func (a *Admin) SearchAuditLogs(ctx context.Context, query storage.SearchQuery) ([]record.AuditEvent, error) {
	admin, err := a.authorize(ctx)
	if err != nil {
		return nil, err
	}
	records, err := a.store.SearchEvents(ctx, query)
	if err != nil {
		return nil, err
	}
	a.logAction(ctx, admin.ID, "search_audit_logs", map[string]any{
		"filter":  query.Filter,
		"results": len(records),
	})
	return records, nil
}

// GenerateAuditReport aggregates the trail over a date range.
func (a *Admin) GenerateAuditReport(ctx context.Context, query storage.ReportQuery) (storage.Report, error) {
	admin, err := a.authorize(ctx)
	if err != nil {
		return storage.Report{}, err
	}
	report, err := a.store.Report(ctx, query)
	if err != nil {
		return storage.Report{}, err
	}
	a.logAction(ctx, admin.ID, "generate_audit_report", map[string]any{
		"from":   query.From.UTC().Format("2006-01-02"),
		"to":     query.To.UTC().Format("2006-01-02"),
		"events": report.TotalEvents,
	})
	return report, nil
}

// ListSecurityEvents returns detected anomalies, newest first.
func (a *Admin) ListSecurityEvents(ctx context.Context, onlyUnresolved bool, limit int) ([]security.SecurityEvent, error) {
	if _, err := a.authorize(ctx); err != nil {
		return nil, err
	}
	return a.store.ListSecurityEvents(ctx, onlyUnresolved, limit)
}

// ResolveSecurityEvent marks one anomaly reviewed. Resolving an already
// resolved event is a no-op.
func (a *Admin) ResolveSecurityEvent(ctx context.Context, eventID string) error {
	admin, err := a.authorize(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(eventID) == "" {
		return apperrors.New(apperrors.CodeNotFound, "security event id is required")
	}
	changed, err := a.store.ResolveSecurityEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if changed {
		a.logAction(ctx, admin.ID, "resolve_security_event", map[string]any{
			"security_event_id": eventID,
		})
	}
	return nil
}

// PurgeExpired runs the retention sweep and returns how many records were
// deleted.
func (a *Admin) PurgeExpired(ctx context.Context) (int64, error) {
	admin, err := a.authorize(ctx)
	if err != nil {
		return 0, err
	}
	if a.recorder == nil {
		return 0, fmt.Errorf("retention sweep is not configured")
	}
	purged, err := a.recorder.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	a.logAction(ctx, admin.ID, "purge_expired_audit_records", map[string]any{
		"purged": purged,
	})
	return purged, nil
}

// LogAdminAction records an out-of-band administrative intervention.
func (a *Admin) LogAdminAction(ctx context.Context, action, resourceType, resourceID string, detail map[string]any) error {
	admin, err := a.authorize(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("action is required")
	}
	after := map[string]any{"action": action}
	for key, value := range detail {
		after[key] = value
	}
	a.publish(ctx, events.Event{
		Name:         actionAdmin,
		ActorID:      admin.ID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      true,
		After:        after,
		Timestamp:    a.settings.now(),
	})
	return nil
}

const actionAdmin = "admin_action"

func (a *Admin) authorize(ctx context.Context) (marketstorage.Actor, error) {
	if a == nil || a.guard == nil {
		return marketstorage.Actor{}, apperrors.New(apperrors.CodePermissionDenied, "admin guard is not configured")
	}
	return a.guard.RequireAdmin(ctx)
}

func (a *Admin) logAction(ctx context.Context, adminID, action string, detail map[string]any) {
	after := map[string]any{"action": action}
	for key, value := range detail {
		after[key] = value
	}
	a.publish(ctx, events.Event{
		Name:         actionAdmin,
		ActorID:      adminID,
		ResourceType: "audit",
		ResourceID:   action,
		Success:      true,
		After:        after,
		Timestamp:    a.settings.now(),
	})
}

func (a *Admin) publish(ctx context.Context, evt events.Event) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(ctx, evt)
}
