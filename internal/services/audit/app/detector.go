package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
	"github.com/Casazola49/blacklist-core/internal/services/audit/storage"
)

// Actions the detector inspects. The values match the names the market
// service publishes on the bus.
const (
	actionContractUpdated    = "contract_updated"
	actionTransactionCreated = "transaction_created"
	actionRoleChanged        = "role_changed"
	actionActorSuspended     = "actor_suspended"

	resourceActor = "actor"
)

// dedupWindow bounds repeat firings for rules that have no window of their
// own: one anomaly per rule and subject inside it.
const dedupWindow = 24 * time.Hour

// Suspender locks an actor account. The market directory store satisfies it.
type Suspender interface {
	SuspendActor(ctx context.Context, actorID, reason string, now time.Time) (bool, error)
}

// Detector evaluates anomaly rules against the event stream. It subscribes
// after the recorder, so window counts over the audit trail already include
// the event being handled.
type Detector struct {
	counts    storage.AuditStore
	anomalies storage.SecurityStore
	suspender Suspender
	bus       *events.Bus
	policy    security.Policy
	settings  settings
}

// NewDetector creates a detector with the given rule thresholds.
func NewDetector(counts storage.AuditStore, anomalies storage.SecurityStore, suspender Suspender, bus *events.Bus, policy security.Policy, opts ...Option) *Detector {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Detector{
		counts:    counts,
		anomalies: anomalies,
		suspender: suspender,
		bus:       bus,
		policy:    policy,
		settings:  s,
	}
}

// Handle implements events.Handler.
func (d *Detector) Handle(ctx context.Context, evt events.Event) error {
	if d == nil || d.anomalies == nil {
		return fmt.Errorf("detector is not configured")
	}
	switch evt.Name {
	case actionContractUpdated:
		return d.checkRapidUpdates(ctx, evt)
	case actionTransactionCreated:
		if err := d.checkLargeTransaction(ctx, evt); err != nil {
			return err
		}
		return d.checkTransactionBurst(ctx, evt)
	case actionRoleChanged:
		return d.checkRoleChange(ctx, evt)
	}
	return nil
}

func (d *Detector) checkRapidUpdates(ctx context.Context, evt events.Event) error {
	window := d.policy.ContractUpdateWindow.Std()
	since := d.settings.now().Add(-window)
	count, err := d.counts.CountEventsByResource(ctx, actionContractUpdated, evt.ResourceID, since)
	if err != nil {
		return fmt.Errorf("count contract updates: %w", err)
	}
	if count < d.policy.ContractUpdateThreshold {
		return nil
	}
	return d.raise(ctx, anomaly{
		rule:      security.RuleRapidContractUpdates,
		subjectID: evt.ResourceID,
		actorID:   evt.ActorID,
		risk:      d.policy.ContractUpdateRisk,
		window:    window,
		detail: map[string]any{
			"contract_id": evt.ResourceID,
			"updates":     count,
			"window":      window.String(),
		},
	})
}

func (d *Detector) checkLargeTransaction(ctx context.Context, evt events.Event) error {
	amount, ok := amountCents(evt.After)
	if !ok || amount <= d.policy.LargeAmountCents {
		return nil
	}
	return d.raise(ctx, anomaly{
		rule:      security.RuleLargeTransaction,
		subjectID: evt.ResourceID,
		actorID:   evt.ActorID,
		risk:      d.policy.LargeAmountRisk,
		window:    dedupWindow,
		detail: map[string]any{
			"transaction_id": evt.ResourceID,
			"amount_cents":   amount,
			"threshold":      d.policy.LargeAmountCents,
		},
	})
}

func (d *Detector) checkTransactionBurst(ctx context.Context, evt events.Event) error {
	window := d.policy.ClientTransactionWindow.Std()
	since := d.settings.now().Add(-window)
	count, err := d.counts.CountEventsByActor(ctx, actionTransactionCreated, evt.ActorID, since)
	if err != nil {
		return fmt.Errorf("count client transactions: %w", err)
	}
	if count <= d.policy.ClientTransactionThreshold {
		return nil
	}
	return d.raise(ctx, anomaly{
		rule:      security.RuleTransactionBurst,
		subjectID: evt.ActorID,
		actorID:   evt.ActorID,
		risk:      d.policy.ClientTransactionRisk,
		window:    window,
		detail: map[string]any{
			"client_id":    evt.ActorID,
			"transactions": count,
			"window":       window.String(),
		},
	})
}

func (d *Detector) checkRoleChange(ctx context.Context, evt events.Event) error {
	return d.raise(ctx, anomaly{
		rule:      security.RuleRoleChange,
		subjectID: evt.ResourceID,
		actorID:   evt.ResourceID,
		risk:      d.policy.RoleChangeRisk,
		window:    dedupWindow,
		detail: map[string]any{
			"actor_id":     evt.ResourceID,
			"performed_by": evt.ActorID,
			"before":       evt.Before,
			"after":        evt.After,
		},
	})
}

type anomaly struct {
	rule      string
	subjectID string
	actorID   string
	risk      security.RiskLevel
	window    time.Duration
	detail    map[string]any
}

func (d *Detector) raise(ctx context.Context, a anomaly) error {
	now := d.settings.now()
	seen, err := d.anomalies.HasRecentSecurityEvent(ctx, a.rule, a.subjectID, now.Add(-a.window))
	if err != nil {
		return fmt.Errorf("check recent anomalies: %w", err)
	}
	if seen {
		return nil
	}

	eventID, err := d.settings.newID()
	if err != nil {
		return fmt.Errorf("generate security event id: %w", err)
	}
	evt := security.SecurityEvent{
		ID:        eventID,
		Type:      security.TypeSuspiciousActivity,
		Rule:      a.rule,
		SubjectID: a.subjectID,
		ActorID:   a.actorID,
		Risk:      a.risk,
		Detail:    a.detail,
		Timestamp: now,
	}
	if err := d.anomalies.CreateSecurityEvent(ctx, evt); err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	if a.risk != security.RiskCritical {
		return nil
	}
	return d.suspend(ctx, evt)
}

func (d *Detector) suspend(ctx context.Context, evt security.SecurityEvent) error {
	if d.suspender == nil || evt.ActorID == "" {
		return nil
	}
	reason := fmt.Sprintf("security rule %s", evt.Rule)
	changed, err := d.suspender.SuspendActor(ctx, evt.ActorID, reason, d.settings.now())
	if err != nil {
		return fmt.Errorf("suspend actor %s: %w", evt.ActorID, err)
	}
	if !changed || d.bus == nil {
		return nil
	}
	d.bus.Publish(ctx, events.Event{
		Name:         actionActorSuspended,
		ActorID:      evt.ActorID,
		ResourceType: resourceActor,
		ResourceID:   evt.ActorID,
		Success:      true,
		After: map[string]any{
			"state":  "suspended",
			"rule":   evt.Rule,
			"reason": reason,
		},
		Timestamp: d.settings.now(),
	})
	return nil
}

func amountCents(snapshot map[string]any) (int64, bool) {
	raw, ok := snapshot["amount_cents"]
	if !ok {
		return 0, false
	}
	switch value := raw.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		return int64(value), true
	}
	return 0, false
}

var _ events.Handler = (*Detector)(nil)
