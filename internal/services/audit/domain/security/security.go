// Package security defines the anomaly detection model: security events,
// risk levels, and the tunable detection policy.
package security

import (
	"time"
)

// RiskLevel grades a detected anomaly.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the risk level is known.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// TypeSuspiciousActivity is the event type every detection rule emits.
const TypeSuspiciousActivity = "suspicious_activity"

// Rule names identify which detection rule fired.
const (
	RuleRapidContractUpdates = "rapid_contract_updates"
	RuleLargeTransaction     = "large_transaction"
	RuleTransactionBurst     = "transaction_burst"
	RuleRoleChange           = "role_change"
)

// SecurityEvent is one detected anomaly. SubjectID is the record the rule
// keyed on (a contract, a transaction, or an actor) and deduplicates repeat
// firings; ActorID is the account the anomaly concerns, when one exists.
type SecurityEvent struct {
	ID        string
	Type      string
	Rule      string
	SubjectID string
	ActorID   string
	Risk      RiskLevel
	Detail    map[string]any
	Resolved  bool
	Timestamp time.Time
}
