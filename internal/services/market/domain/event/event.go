// Package event names the domain events the market service publishes.
//
// Every committed mutation publishes exactly one event on the platform bus;
// the audit recorder and the anomaly detector subscribe to the same stream.
// Names are stable identifiers: severity and category classification in the
// audit service key off them.
package event

import (
	"github.com/Casazola49/blacklist-core/internal/platform/events"
)

// Resource type identifiers used in event envelopes.
const (
	ResourceContract    = "contract"
	ResourceProposal    = "proposal"
	ResourceTransaction = "escrow_transaction"
	ResourceActor       = "actor"
)

// Market domain event names.
const (
	ContractCreated   = "contract_created"
	ContractUpdated   = "contract_updated"
	ContractCancelled = "contract_cancelled"
	ContractDisputed  = "contract_disputed"
	ProposalSubmitted = "proposal_submitted"
	ProposalWithdrawn = "proposal_withdrawn"
	ProposalAccepted  = "proposal_accepted"

	TransactionCreated = "transaction_created"
	DepositConfirmed   = "deposit_confirmed"
	WorkDelivered      = "work_delivered"
	WorkApproved       = "work_approved"
	FundsReleased      = "funds_released"
	FundsRefunded      = "funds_refunded"
	DisputeResolved    = "dispute_resolved"

	ProfileUpdated = "profile_updated"
	RoleChanged    = "role_changed"
	ActorSuspended = "actor_suspended"
	AdminAction    = "admin_action"
)

// New builds a successful event envelope for a market mutation.
func New(name, actorID, resourceType, resourceID string) events.Event {
	return events.Event{
		Name:         name,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      true,
	}
}

// WithChange attaches before/after snapshots to an envelope.
func WithChange(evt events.Event, before, after map[string]any) events.Event {
	evt.Before = before
	evt.After = after
	return evt
}
