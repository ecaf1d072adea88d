// Package contract defines the contract lifecycle state machine.
//
// A contract is the unit of work a client posts, specialists bid on, and the
// escrow ledger funds. Every status change flows through Transition so the
// lifecycle graph stays closed: there are no shortcut edges, and an illegal
// transition leaves the record untouched.
package contract

import (
	"strings"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/id"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
)

// Status describes the contract lifecycle state.
type Status string

const (
	// StatusOpen accepts proposals; no specialist is assigned.
	StatusOpen Status = "open"
	// StatusAwaitingDeposit has a winning proposal but no funds yet.
	StatusAwaitingDeposit Status = "awaiting_deposit"
	// StatusFundsHeld has the client deposit in custody.
	StatusFundsHeld Status = "funds_held"
	// StatusDelivered has specialist work submitted for review.
	StatusDelivered Status = "delivered"
	// StatusCompleted is terminal; funds released to the specialist.
	StatusCompleted Status = "completed"
	// StatusDisputed awaits administrative resolution.
	StatusDisputed Status = "disputed"
	// StatusCancelled is terminal; no funds ever moved, or they were refunded.
	StatusCancelled Status = "cancelled"
)

// transitions is the closed set of legal lifecycle edges.
var transitions = map[Status][]Status{
	StatusOpen:            {StatusAwaitingDeposit, StatusCancelled},
	StatusAwaitingDeposit: {StatusFundsHeld, StatusCancelled},
	StatusFundsHeld:       {StatusDelivered, StatusDisputed},
	StatusDelivered:       {StatusCompleted, StatusDisputed},
	StatusDisputed:        {StatusCompleted, StatusCancelled},
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAwaitingDeposit, StatusFundsHeld,
		StatusDelivered, StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// Contract represents one unit of work under marketplace custody.
type Contract struct {
	ID              string
	ClientID        string
	SpecialistID    string
	Title           string
	Description     string
	Deadline        time.Time
	SuggestedBudget money.Amount
	FinalPrice      money.Amount
	Status          Status
	CreatedAt       time.Time
	AssignedAt      *time.Time
	CompletedAt     *time.Time
}

// CreateInput describes the data needed to post a new contract.
type CreateInput struct {
	ClientID        string
	Title           string
	Description     string
	Deadline        time.Time
	SuggestedBudget money.Amount
}

// Create validates input and returns a new open contract.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Contract, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	clientID := strings.TrimSpace(input.ClientID)
	if clientID == "" {
		return Contract{}, apperrors.New(apperrors.CodeContractClientMissing, "client id is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Contract{}, apperrors.New(apperrors.CodeContractTitleEmpty, "contract title is required")
	}
	if input.SuggestedBudget < 0 {
		return Contract{}, apperrors.New(apperrors.CodeContractInvalidBudget, "suggested budget cannot be negative")
	}
	createdAt := now().UTC()
	if !input.Deadline.IsZero() && input.Deadline.Before(createdAt) {
		return Contract{}, apperrors.New(apperrors.CodeContractInvalidDeadline, "deadline cannot be in the past")
	}
	contractID, err := idGenerator()
	if err != nil {
		return Contract{}, apperrors.Wrap(apperrors.CodeUnknown, "generate contract id", err)
	}
	return Contract{
		ID:              contractID,
		ClientID:        clientID,
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		Deadline:        input.Deadline.UTC(),
		SuggestedBudget: input.SuggestedBudget,
		Status:          StatusOpen,
		CreatedAt:       createdAt,
	}, nil
}

// Transition moves the contract to target or fails without mutating it.
func (c *Contract) Transition(target Status, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if !target.Valid() || !c.Status.CanTransitionTo(target) {
		return apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"illegal contract transition",
			map[string]string{"from": string(c.Status), "to": string(target)})
	}
	c.Status = target
	if target == StatusCompleted {
		completedAt := now().UTC()
		c.CompletedAt = &completedAt
	}
	return nil
}

// Assign records the winning specialist and final price while the contract
// moves out of open. FinalPrice is set if and only if the contract has left
// the open state.
func (c *Contract) Assign(specialistID string, finalPrice money.Amount, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if c.Status != StatusOpen {
		return apperrors.WithMetadata(apperrors.CodeContractAlreadyAssigned,
			"contract already assigned",
			map[string]string{"contract_id": c.ID, "status": string(c.Status)})
	}
	specialistID = strings.TrimSpace(specialistID)
	if specialistID == "" {
		return apperrors.New(apperrors.CodeProposalEmptySpecialistID, "specialist id is required")
	}
	if finalPrice <= 0 {
		return apperrors.New(apperrors.CodeProposalInvalidPrice, "final price must be positive")
	}
	if err := c.Transition(StatusAwaitingDeposit, now); err != nil {
		return err
	}
	assignedAt := now().UTC()
	c.SpecialistID = specialistID
	c.FinalPrice = finalPrice
	c.AssignedAt = &assignedAt
	return nil
}
