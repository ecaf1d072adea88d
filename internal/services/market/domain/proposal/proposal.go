// Package proposal defines specialist bids against open contracts.
package proposal

import (
	"strings"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/id"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
)

// Status describes the proposal state.
type Status string

const (
	// StatusPending awaits the client's decision.
	StatusPending Status = "pending"
	// StatusAccepted won the contract. At most one proposal per contract
	// ever holds this state.
	StatusAccepted Status = "accepted"
	// StatusRejected lost to another proposal or was declined.
	StatusRejected Status = "rejected"
	// StatusWithdrawn was pulled back by its specialist before a decision.
	StatusWithdrawn Status = "withdrawn"
)

// Valid reports whether the status is a known proposal state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// Blocking reports whether a proposal in this state blocks the same
// specialist from submitting another bid on the contract.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusAccepted
}

// Proposal is one specialist bid on a contract.
type Proposal struct {
	ID           string
	ContractID   string
	SpecialistID string
	Price        money.Amount
	Message      string
	Status       Status
	SubmittedAt  time.Time
}

// SubmitInput describes the data needed to submit a bid.
type SubmitInput struct {
	ContractID   string
	SpecialistID string
	Price        money.Amount
	Message      string
}

// Submit validates input and returns a new pending proposal.
func Submit(input SubmitInput, now func() time.Time, idGenerator func() (string, error)) (Proposal, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	contractID := strings.TrimSpace(input.ContractID)
	if contractID == "" {
		return Proposal{}, apperrors.New(apperrors.CodeProposalEmptyContractID, "contract id is required")
	}
	specialistID := strings.TrimSpace(input.SpecialistID)
	if specialistID == "" {
		return Proposal{}, apperrors.New(apperrors.CodeProposalEmptySpecialistID, "specialist id is required")
	}
	if input.Price <= 0 {
		return Proposal{}, apperrors.New(apperrors.CodeProposalInvalidPrice, "proposal price must be positive")
	}
	proposalID, err := idGenerator()
	if err != nil {
		return Proposal{}, apperrors.Wrap(apperrors.CodeUnknown, "generate proposal id", err)
	}
	return Proposal{
		ID:           proposalID,
		ContractID:   contractID,
		SpecialistID: specialistID,
		Price:        input.Price,
		Message:      strings.TrimSpace(input.Message),
		Status:       StatusPending,
		SubmittedAt:  now().UTC(),
	}, nil
}

// Withdraw marks a pending proposal withdrawn by its owner.
func (p *Proposal) Withdraw(specialistID string) error {
	if strings.TrimSpace(specialistID) != p.SpecialistID {
		return apperrors.New(apperrors.CodeProposalNotOwned, "proposal belongs to another specialist")
	}
	if p.Status != StatusPending {
		return apperrors.WithMetadata(apperrors.CodeProposalNotPending,
			"only pending proposals can be withdrawn",
			map[string]string{"proposal_id": p.ID, "status": string(p.Status)})
	}
	p.Status = StatusWithdrawn
	return nil
}
