// Package storage defines persistence contracts for market service state.
package storage

import (
	"context"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/proposal"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrStaleState indicates a conditional write observed a state other than
// the one the caller validated against. The caller translates this into the
// operation-specific concurrency error.
var ErrStaleState = apperrors.New(apperrors.CodeContractInvalidTransition, "record state changed concurrently")

// ContractPage is one page of contract records.
type ContractPage struct {
	Contracts     []contract.Contract
	NextPageToken string
}

// AcceptOutcome carries the records written by the atomic acceptance unit.
type AcceptOutcome struct {
	Contract    contract.Contract
	Accepted    proposal.Proposal
	RejectedIDs []string
	Transaction escrow.Transaction
}

// ResolveOutcome carries the records written by dispute resolution.
type ResolveOutcome struct {
	Contract    contract.Contract
	Transaction escrow.Transaction
	// Applied is false when the same outcome had already been applied and
	// the call was an idempotent no-op.
	Applied bool
}

// SettleOutcome carries the records written by an atomic custody settlement:
// deposit confirmation or contract completion.
type SettleOutcome struct {
	Contract    contract.Contract
	Transaction escrow.Transaction
	// Applied is false when contract and escrow had already reached their
	// target states and the call was an idempotent no-op.
	Applied bool
}

// ContractStore persists contract lifecycle state.
type ContractStore interface {
	CreateContract(ctx context.Context, c contract.Contract) error
	GetContract(ctx context.Context, contractID string) (contract.Contract, error)
	ListContractsByClient(ctx context.Context, clientID string, pageSize int, pageToken string) (ContractPage, error)
	ListOpenContracts(ctx context.Context, pageSize int, pageToken string) (ContractPage, error)

	// TransitionContract performs a conditional status write keyed on the
	// lifecycle state the caller validated against. It returns ErrStaleState
	// when the stored status no longer matches from.
	TransitionContract(ctx context.Context, contractID string, from, to contract.Status, completedAt *time.Time) (contract.Contract, error)

	// AcceptProposal applies the whole acceptance unit in one transaction:
	// winning proposal accepted, sibling pending proposals rejected, contract
	// assigned and moved to awaiting_deposit, escrow transaction created.
	// Returns ErrStaleState when the contract is no longer open.
	AcceptProposal(ctx context.Context, contractID, proposalID string, now time.Time, txID string) (AcceptOutcome, error)

	// ConfirmDeposit records the client payment in one transaction: escrow
	// moves from pending_deposit to funds_held and the contract from
	// awaiting_deposit to funds_held, so the two records never commit apart.
	// Repeating a confirmed deposit returns Applied=false; a contract that
	// can no longer accept the deposit returns ErrStaleState.
	ConfirmDeposit(ctx context.Context, contractID, reference string, now time.Time) (SettleOutcome, error)

	// CompleteContract applies the approval unit in one transaction: the
	// contract moves from delivered to completed, escrow releases the payout,
	// and the specialist's cumulative earnings are credited. Repeating a
	// completed approval returns Applied=false.
	CompleteContract(ctx context.Context, contractID string, now time.Time) (SettleOutcome, error)

	// ResolveDispute applies the terminal dispute outcome in one transaction:
	// contract to its terminal state, escrow to released or refunded, and the
	// outcome recorded for idempotency. A repeat call with the recorded
	// outcome returns Applied=false; a conflicting outcome fails with
	// CodeDisputeAlreadyResolved.
	ResolveDispute(ctx context.Context, contractID string, outcome DisputeOutcome, now time.Time) (ResolveOutcome, error)
}

// DisputeOutcome names the party a dispute resolves in favor of.
type DisputeOutcome string

const (
	// OutcomeClient refunds the deposit to the client.
	OutcomeClient DisputeOutcome = "client"
	// OutcomeSpecialist releases the payout to the specialist.
	OutcomeSpecialist DisputeOutcome = "specialist"
)

// Valid reports whether the outcome is a known resolution.
func (o DisputeOutcome) Valid() bool {
	return o == OutcomeClient || o == OutcomeSpecialist
}

// ProposalStore persists specialist bids.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p proposal.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error)
	ListProposals(ctx context.Context, contractID string) ([]proposal.Proposal, error)
	// HasBlockingProposal reports whether the specialist already has a
	// pending or accepted proposal on the contract.
	HasBlockingProposal(ctx context.Context, contractID, specialistID string) (bool, error)
	// UpdateProposalStatus performs a conditional status write keyed on the
	// state the caller validated against.
	UpdateProposalStatus(ctx context.Context, proposalID string, from, to proposal.Status) error
}

// EscrowStore persists custody transactions.
type EscrowStore interface {
	GetTransaction(ctx context.Context, txID string) (escrow.Transaction, error)
	GetTransactionByContract(ctx context.Context, contractID string) (escrow.Transaction, error)
	// ApplyTransaction moves the transaction to target inside one write,
	// honoring the domain's idempotent no-op on an already-reached target.
	// The returned boolean reports whether state changed.
	ApplyTransaction(ctx context.Context, txID string, target escrow.Status, reference string, now time.Time) (escrow.Transaction, bool, error)
}

// ActorRole describes the marketplace role of an account.
type ActorRole string

const (
	RoleClient     ActorRole = "client"
	RoleSpecialist ActorRole = "specialist"
	RoleAdmin      ActorRole = "admin"
)

// ActorState describes account standing.
type ActorState string

const (
	ActorActive    ActorState = "active"
	ActorSuspended ActorState = "suspended"
)

// Actor is one directory entry resolved for permission checks, earnings
// accumulation, and protective suspension.
type Actor struct {
	ID               string
	DisplayName      string
	Role             ActorRole
	State            ActorState
	SuspensionReason string
	Earnings         money.Amount
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DirectoryStore persists the actor directory.
type DirectoryStore interface {
	PutActor(ctx context.Context, actor Actor) error
	GetActor(ctx context.Context, actorID string) (Actor, error)
	// SuspendActor marks the actor suspended with a reason. Suspending an
	// already-suspended actor is a no-op; the boolean reports whether state
	// changed.
	SuspendActor(ctx context.Context, actorID, reason string, now time.Time) (bool, error)
	// AddEarnings increments a specialist's cumulative earnings.
	AddEarnings(ctx context.Context, actorID string, delta money.Amount, now time.Time) error
	// UpdateActorRole changes the directory role, returning the previous one.
	UpdateActorRole(ctx context.Context, actorID string, role ActorRole, now time.Time) (ActorRole, error)
	// UpdateActorProfile changes display metadata, returning the previous name.
	UpdateActorProfile(ctx context.Context, actorID, displayName string, now time.Time) (string, error)
}

// Store aggregates every market persistence contract.
type Store interface {
	ContractStore
	ProposalStore
	EscrowStore
	DirectoryStore
	Close() error
}
