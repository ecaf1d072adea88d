// Package escrow defines custody of contract funds.
//
// One transaction tracks the client deposit for one contract from the moment
// a proposal is accepted until funds are released, refunded, or frozen under
// dispute. The commission split is computed once at creation and the identity
// commission + payout == amount holds to the cent.
package escrow

import (
	"strings"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/id"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
)

// Status describes the escrow transaction state.
type Status string

const (
	// StatusPendingDeposit awaits the client's payment.
	StatusPendingDeposit Status = "pending_deposit"
	// StatusFundsHeld has the deposit in platform custody.
	StatusFundsHeld Status = "funds_held"
	// StatusReleased paid the specialist; terminal.
	StatusReleased Status = "released_to_specialist"
	// StatusRefunded returned the deposit to the client; terminal.
	StatusRefunded Status = "refunded_to_client"
	// StatusDisputed froze the funds pending administrative resolution.
	StatusDisputed Status = "disputed"
)

// transitions is the closed set of legal custody edges. Disputed funds only
// move again through dispute resolution, which maps to release or refund.
var transitions = map[Status][]Status{
	StatusPendingDeposit: {StatusFundsHeld},
	StatusFundsHeld:      {StatusReleased, StatusRefunded, StatusDisputed},
	StatusDisputed:       {StatusReleased, StatusRefunded},
}

// Valid reports whether the status is a known custody state.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingDeposit, StatusFundsHeld, StatusReleased, StatusRefunded, StatusDisputed:
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

// Transaction is the custody record for one contract's funds.
type Transaction struct {
	ID           string
	ContractID   string
	ClientID     string
	SpecialistID string
	Amount       money.Amount
	Commission   money.Amount
	Payout       money.Amount
	Status       Status
	DepositedAt  *time.Time
	ReleasedAt   *time.Time
	Reference    string
}

// CreateInput describes the data needed to open custody for a contract.
type CreateInput struct {
	ContractID   string
	ClientID     string
	SpecialistID string
	Amount       money.Amount
}

// Create validates input and returns a transaction awaiting deposit.
func Create(input CreateInput, idGenerator func() (string, error)) (Transaction, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	contractID := strings.TrimSpace(input.ContractID)
	if contractID == "" {
		return Transaction{}, apperrors.New(apperrors.CodeProposalEmptyContractID, "contract id is required")
	}
	if input.Amount <= 0 {
		return Transaction{}, apperrors.New(apperrors.CodeEscrowInvalidAmount, "escrow amount must be positive")
	}
	txID, err := idGenerator()
	if err != nil {
		return Transaction{}, apperrors.Wrap(apperrors.CodeUnknown, "generate transaction id", err)
	}
	return Transaction{
		ID:           txID,
		ContractID:   contractID,
		ClientID:     strings.TrimSpace(input.ClientID),
		SpecialistID: strings.TrimSpace(input.SpecialistID),
		Amount:       input.Amount,
		Commission:   input.Amount.Commission(),
		Payout:       input.Amount.Payout(),
		Status:       StatusPendingDeposit,
	}, nil
}

// Apply moves the transaction to target. Reaching an already-reached target
// is a no-op success, which keeps every custody operation safe to retry
// under at-least-once delivery. The boolean reports whether state changed.
func (t *Transaction) Apply(target Status, now func() time.Time) (bool, error) {
	if now == nil {
		now = time.Now
	}
	if t.Status == target {
		return false, nil
	}
	if !target.Valid() || !t.Status.CanTransitionTo(target) {
		return false, apperrors.WithMetadata(apperrors.CodeEscrowInvalidTransition,
			"illegal escrow transition",
			map[string]string{"from": string(t.Status), "to": string(target)})
	}
	t.Status = target
	switch target {
	case StatusFundsHeld:
		depositedAt := now().UTC()
		t.DepositedAt = &depositedAt
	case StatusReleased, StatusRefunded:
		releasedAt := now().UTC()
		t.ReleasedAt = &releasedAt
	}
	return true, nil
}
