// Package record defines the append-only audit event model.
//
// Severity and category derive from static action tables; an action missing
// from a table gets the low/system defaults rather than an error, so new
// event names degrade gracefully instead of dropping records.
package record

import (
	"strings"
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/platform/id"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
)

// Severity grades the impact of an audited action.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known grade.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category groups audited actions by concern.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryFinancial Category = "financial"
	CategoryAdmin     Category = "admin"
	CategorySecurity  Category = "security"
	CategoryUser      Category = "user"
	CategorySystem    Category = "system"
)

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuth, CategoryFinancial, CategoryAdmin, CategorySecurity, CategoryUser, CategorySystem:
		return true
	}
	return false
}

// AuditEvent is one immutable record of a domain mutation.
type AuditEvent struct {
	ID           string
	Action       string
	ActorID      string
	ResourceType string
	ResourceID   string
	Severity     Severity
	Category     Category
	Success      bool
	Before       map[string]any
	After        map[string]any
	Timestamp    time.Time
}

var severityByAction = map[string]Severity{
	event.TransactionCreated: SeverityHigh,
	event.DepositConfirmed:   SeverityHigh,
	event.FundsReleased:      SeverityHigh,
	event.FundsRefunded:      SeverityHigh,
	event.DisputeResolved:    SeverityHigh,
	event.ContractDisputed:   SeverityMedium,
	event.WorkApproved:       SeverityMedium,
	event.ProfileUpdated:     SeverityMedium,
	event.RoleChanged:        SeverityHigh,
	event.ActorSuspended:     SeverityCritical,
	event.AdminAction:        SeverityMedium,
}

var categoryByAction = map[string]Category{
	event.TransactionCreated: CategoryFinancial,
	event.DepositConfirmed:   CategoryFinancial,
	event.FundsReleased:      CategoryFinancial,
	event.FundsRefunded:      CategoryFinancial,
	event.DisputeResolved:    CategoryAdmin,
	event.AdminAction:        CategoryAdmin,
	event.RoleChanged:        CategoryAdmin,
	event.ActorSuspended:     CategorySecurity,
	event.ProfileUpdated:     CategoryUser,
	event.ContractCreated:    CategoryUser,
	event.ContractUpdated:    CategoryUser,
	event.ContractCancelled:  CategoryUser,
	event.ContractDisputed:   CategoryUser,
	event.ProposalSubmitted:  CategoryUser,
	event.ProposalWithdrawn:  CategoryUser,
	event.ProposalAccepted:   CategoryUser,
	event.WorkDelivered:      CategoryUser,
	event.WorkApproved:       CategoryUser,
}

// Classify returns the severity and category for an action name.
func Classify(action string) (Severity, Category) {
	severity, ok := severityByAction[action]
	if !ok {
		severity = SeverityLow
	}
	category, ok := categoryByAction[action]
	if !ok {
		category = CategorySystem
	}
	return severity, category
}

// sensitiveFragments mark snapshot keys whose values never reach storage.
var sensitiveFragments = []string{
	"password",
	"token",
	"secret",
	"credential",
	"cv",
	"curriculum",
	"api_key",
}

const redactedPlaceholder = "[REDACTED]"

func sensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// Redact returns a copy of snapshot with sensitive values replaced. Nested
// maps are redacted recursively; the input is never modified.
func Redact(snapshot map[string]any) map[string]any {
	if snapshot == nil {
		return nil
	}
	clean := make(map[string]any, len(snapshot))
	for key, value := range snapshot {
		if sensitiveKey(key) {
			clean[key] = redactedPlaceholder
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			clean[key] = Redact(nested)
			continue
		}
		clean[key] = value
	}
	return clean
}

// FromDomainEvent classifies and redacts one bus event into an audit record.
func FromDomainEvent(evt events.Event, idGenerator func() (string, error)) (AuditEvent, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	if strings.TrimSpace(evt.Name) == "" {
		return AuditEvent{}, apperrors.New(apperrors.CodeAuditInvalidFilter, "event name is required")
	}
	eventID, err := idGenerator()
	if err != nil {
		return AuditEvent{}, apperrors.Wrap(apperrors.CodeUnknown, "generate audit event id", err)
	}
	severity, category := Classify(evt.Name)
	timestamp := evt.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return AuditEvent{
		ID:           eventID,
		Action:       evt.Name,
		ActorID:      evt.ActorID,
		ResourceType: evt.ResourceType,
		ResourceID:   evt.ResourceID,
		Severity:     severity,
		Category:     category,
		Success:      evt.Success,
		Before:       Redact(evt.Before),
		After:        Redact(evt.After),
		Timestamp:    timestamp.UTC(),
	}, nil
}
