// Package app hosts the market application services: the contract
// orchestrator, the proposal arbitrator, the escrow ledger, and the dispute
// resolver. Services validate permissions through one shared guard, persist
// through the storage interfaces, and publish one domain event per committed
// mutation.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
	"github.com/Casazola49/blacklist-core/internal/services/notify/render"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
)

// Orchestrator drives the contract lifecycle.
type Orchestrator struct {
	store    storage.Store
	ledger   *Ledger
	guard    *Guard
	bus      *events.Bus
	notifier Notifier
	settings settings
}

// NewOrchestrator creates the contract lifecycle service.
func NewOrchestrator(store storage.Store, ledger *Ledger, guard *Guard, bus *events.Bus, notifier Notifier, opts ...Option) *Orchestrator {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Orchestrator{
		store:    store,
		ledger:   ledger,
		guard:    guard,
		bus:      bus,
		notifier: notifier,
		settings: s,
	}
}

// CreateContractInput describes a new work posting.
type CreateContractInput struct {
	Title           string
	Description     string
	Deadline        time.Time
	SuggestedBudget money.Amount
}

// CreateContract posts a new open contract for the authenticated client.
func (o *Orchestrator) CreateContract(ctx context.Context, input CreateContractInput) (contract.Contract, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleClient)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := contract.Create(contract.CreateInput{
		ClientID:        actor.ID,
		Title:           input.Title,
		Description:     input.Description,
		Deadline:        input.Deadline,
		SuggestedBudget: input.SuggestedBudget,
	}, o.settings.now, o.settings.newID)
	if err != nil {
		return contract.Contract{}, err
	}
	if err := o.store.CreateContract(ctx, c); err != nil {
		return contract.Contract{}, apperrors.Wrap(apperrors.CodePersistenceFailure, "persist contract", err)
	}
	o.publish(ctx, event.WithChange(
		event.New(event.ContractCreated, actor.ID, event.ResourceContract, c.ID),
		nil,
		map[string]any{"status": string(c.Status), "title": c.Title},
	))
	notify(ctx, o.notifier, Notification{
		RecipientID: actor.ID,
		Topic:       render.TopicContractCreated,
		Locale:      o.settings.locale,
		Args:        []any{c.Title},
	})
	return c, nil
}

// GetContract returns one contract visible to the authenticated actor.
func (o *Orchestrator) GetContract(ctx context.Context, contractID string) (contract.Contract, error) {
	if _, err := o.guard.RequireActiveActor(ctx); err != nil {
		return contract.Contract{}, err
	}
	return o.store.GetContract(ctx, contractID)
}

// ListClientContracts returns one page of the caller's own contracts.
func (o *Orchestrator) ListClientContracts(ctx context.Context, pageSize int, pageToken string) (storage.ContractPage, error) {
	actor, err := o.guard.RequireActiveActor(ctx)
	if err != nil {
		return storage.ContractPage{}, err
	}
	return o.store.ListContractsByClient(ctx, actor.ID, pageSize, pageToken)
}

// ListOpenContracts returns one page of contracts accepting proposals.
func (o *Orchestrator) ListOpenContracts(ctx context.Context, pageSize int, pageToken string) (storage.ContractPage, error) {
	if _, err := o.guard.RequireActiveActor(ctx); err != nil {
		return storage.ContractPage{}, err
	}
	return o.store.ListOpenContracts(ctx, pageSize, pageToken)
}

// AcceptProposal selects the winning bid. The whole acceptance unit applies
// atomically: the winner is accepted, every sibling pending bid is rejected,
// the contract leaves open, and custody is created for the final price. A
// second acceptance on the same contract fails without partial effects.
func (o *Orchestrator) AcceptProposal(ctx context.Context, contractID, proposalID string) (storage.AcceptOutcome, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleClient)
	if err != nil {
		return storage.AcceptOutcome{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return storage.AcceptOutcome{}, err
	}
	if c.ClientID != actor.ID {
		return storage.AcceptOutcome{}, apperrors.New(apperrors.CodePermissionDenied, "contract belongs to another client")
	}
	txID, err := o.settings.newID()
	if err != nil {
		return storage.AcceptOutcome{}, apperrors.Wrap(apperrors.CodeUnknown, "generate transaction id", err)
	}
	outcome, err := o.store.AcceptProposal(ctx, contractID, proposalID, o.settings.now().UTC(), txID)
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return storage.AcceptOutcome{}, apperrors.WithMetadata(apperrors.CodeContractAlreadyAssigned,
				"contract was assigned concurrently",
				map[string]string{"contract_id": contractID})
		}
		return storage.AcceptOutcome{}, err
	}

	o.publish(ctx, event.WithChange(
		event.New(event.ProposalAccepted, actor.ID, event.ResourceProposal, outcome.Accepted.ID),
		map[string]any{"status": "pending"},
		map[string]any{"status": "accepted", "contract_id": contractID},
	))
	o.publish(ctx, event.WithChange(
		event.New(event.TransactionCreated, actor.ID, event.ResourceTransaction, outcome.Transaction.ID),
		nil,
		map[string]any{
			"contract_id":  contractID,
			"amount":       outcome.Transaction.Amount.String(),
			"amount_cents": int64(outcome.Transaction.Amount),
			"commission":   outcome.Transaction.Commission.String(),
			"payout":       outcome.Transaction.Payout.String(),
		},
	))

	notify(ctx, o.notifier, Notification{
		RecipientID: outcome.Accepted.SpecialistID,
		Topic:       render.TopicProposalAccepted,
		Locale:      o.settings.locale,
		Args:        []any{outcome.Contract.Title, money.Format(outcome.Transaction.Amount, o.settings.locale)},
	})
	for _, rejectedID := range outcome.RejectedIDs {
		rejected, err := o.store.GetProposal(ctx, rejectedID)
		if err != nil {
			continue
		}
		notify(ctx, o.notifier, Notification{
			RecipientID: rejected.SpecialistID,
			Topic:       render.TopicProposalRejected,
			Locale:      o.settings.locale,
			Args:        []any{outcome.Contract.Title},
		})
	}
	return outcome, nil
}

// ConfirmDeposit records the client payment and opens the working phase.
// Retrying a confirmed deposit is a no-op success.
func (o *Orchestrator) ConfirmDeposit(ctx context.Context, contractID, reference string) (contract.Contract, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleClient)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return contract.Contract{}, err
	}
	if c.ClientID != actor.ID {
		return contract.Contract{}, apperrors.New(apperrors.CodePermissionDenied, "contract belongs to another client")
	}

	settled, err := o.store.ConfirmDeposit(ctx, contractID, reference, o.settings.now().UTC())
	if err != nil {
		return contract.Contract{}, translateStale(err, contract.StatusAwaitingDeposit, contract.StatusFundsHeld)
	}
	if !settled.Applied {
		return settled.Contract, nil
	}

	o.publish(ctx, event.WithChange(
		event.New(event.DepositConfirmed, actor.ID, event.ResourceTransaction, settled.Transaction.ID),
		map[string]any{"status": string(escrow.StatusPendingDeposit)},
		map[string]any{"status": string(settled.Transaction.Status), "amount": settled.Transaction.Amount.String()},
	))
	o.publishContractUpdate(ctx, actor.ID, c, settled.Contract)
	notify(ctx, o.notifier, Notification{
		RecipientID: settled.Contract.SpecialistID,
		Topic:       render.TopicDepositConfirmed,
		Locale:      o.settings.locale,
		Args:        []any{money.Format(settled.Transaction.Amount, o.settings.locale), settled.Contract.Title},
	})
	return settled.Contract, nil
}

// DeliverWork marks the assignment delivered for client review.
func (o *Orchestrator) DeliverWork(ctx context.Context, contractID string) (contract.Contract, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleSpecialist)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return contract.Contract{}, err
	}
	if c.SpecialistID != actor.ID {
		return contract.Contract{}, apperrors.New(apperrors.CodePermissionDenied, "contract is assigned to another specialist")
	}
	updated, err := o.store.TransitionContract(ctx, contractID, contract.StatusFundsHeld, contract.StatusDelivered, nil)
	if err != nil {
		return contract.Contract{}, translateStale(err, contract.StatusFundsHeld, contract.StatusDelivered)
	}
	o.publish(ctx, event.WithChange(
		event.New(event.WorkDelivered, actor.ID, event.ResourceContract, updated.ID),
		map[string]any{"status": string(c.Status)},
		map[string]any{"status": string(updated.Status)},
	))
	notify(ctx, o.notifier, Notification{
		RecipientID: updated.ClientID,
		Topic:       render.TopicWorkDelivered,
		Locale:      o.settings.locale,
		Args:        []any{updated.Title},
	})
	return updated, nil
}

// ApproveWork accepts the delivery, completes the contract, and releases the
// payout to the specialist.
func (o *Orchestrator) ApproveWork(ctx context.Context, contractID string) (contract.Contract, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleClient)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return contract.Contract{}, err
	}
	if c.ClientID != actor.ID {
		return contract.Contract{}, apperrors.New(apperrors.CodePermissionDenied, "contract belongs to another client")
	}
	settled, err := o.store.CompleteContract(ctx, contractID, o.settings.now().UTC())
	if err != nil {
		return contract.Contract{}, translateStale(err, contract.StatusDelivered, contract.StatusCompleted)
	}
	if !settled.Applied {
		return settled.Contract, nil
	}

	o.publish(ctx, event.WithChange(
		event.New(event.WorkApproved, actor.ID, event.ResourceContract, settled.Contract.ID),
		map[string]any{"status": string(c.Status)},
		map[string]any{"status": string(settled.Contract.Status)},
	))
	o.publish(ctx, event.WithChange(
		event.New(event.FundsReleased, actor.ID, event.ResourceTransaction, settled.Transaction.ID),
		map[string]any{"status": string(escrow.StatusFundsHeld)},
		map[string]any{"status": string(settled.Transaction.Status), "amount": settled.Transaction.Amount.String()},
	))
	notify(ctx, o.notifier, Notification{
		RecipientID: settled.Contract.SpecialistID,
		Topic:       render.TopicFundsReleased,
		Locale:      o.settings.locale,
		Args:        []any{money.Format(settled.Transaction.Payout, o.settings.locale), settled.Contract.Title},
	})
	return settled.Contract, nil
}

// CancelContract withdraws a contract before funds are in custody.
func (o *Orchestrator) CancelContract(ctx context.Context, contractID string) (contract.Contract, error) {
	actor, err := o.guard.RequireRole(ctx, storage.RoleClient)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return contract.Contract{}, err
	}
	if c.ClientID != actor.ID {
		return contract.Contract{}, apperrors.New(apperrors.CodePermissionDenied, "contract belongs to another client")
	}
	if !c.Status.CanTransitionTo(contract.StatusCancelled) {
		return contract.Contract{}, apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"contract can no longer be cancelled",
			map[string]string{"contract_id": contractID, "status": string(c.Status)})
	}
	updated, err := o.store.TransitionContract(ctx, contractID, c.Status, contract.StatusCancelled, nil)
	if err != nil {
		return contract.Contract{}, translateStale(err, c.Status, contract.StatusCancelled)
	}
	o.publish(ctx, event.WithChange(
		event.New(event.ContractCancelled, actor.ID, event.ResourceContract, updated.ID),
		map[string]any{"status": string(c.Status)},
		map[string]any{"status": string(updated.Status)},
	))
	return updated, nil
}

// DisputeContract freezes the contract and its funds pending administrative
// resolution. Either party to the contract may raise the dispute.
func (o *Orchestrator) DisputeContract(ctx context.Context, contractID string) (contract.Contract, error) {
	actor, err := o.guard.RequireActiveActor(ctx)
	if err != nil {
		return contract.Contract{}, err
	}
	c, err := o.store.GetContract(ctx, contractID)
	if err != nil {
		return contract.Contract{}, err
	}
	if actor.ID != c.ClientID && actor.ID != c.SpecialistID {
		return contract.Contract{}, apperrors.New(apperrors.CodePermissionDenied, "only a party to the contract may dispute it")
	}
	if !c.Status.CanTransitionTo(contract.StatusDisputed) {
		return contract.Contract{}, apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"contract cannot be disputed in its current state",
			map[string]string{"contract_id": contractID, "status": string(c.Status)})
	}
	updated, err := o.store.TransitionContract(ctx, contractID, c.Status, contract.StatusDisputed, nil)
	if err != nil {
		return contract.Contract{}, translateStale(err, c.Status, contract.StatusDisputed)
	}
	if _, _, err := o.ledger.MarkDisputed(ctx, contractID); err != nil {
		return contract.Contract{}, err
	}
	o.publish(ctx, event.WithChange(
		event.New(event.ContractDisputed, actor.ID, event.ResourceContract, updated.ID),
		map[string]any{"status": string(c.Status)},
		map[string]any{"status": string(updated.Status)},
	))
	counterparty := updated.ClientID
	if actor.ID == updated.ClientID {
		counterparty = updated.SpecialistID
	}
	notify(ctx, o.notifier, Notification{
		RecipientID: counterparty,
		Topic:       render.TopicContractDisputed,
		Locale:      o.settings.locale,
		Args:        []any{updated.Title},
	})
	return updated, nil
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	if o.bus != nil {
		o.bus.Publish(ctx, evt)
	}
}

func (o *Orchestrator) publishContractUpdate(ctx context.Context, actorID string, before, after contract.Contract) {
	o.publish(ctx, event.WithChange(
		event.New(event.ContractUpdated, actorID, event.ResourceContract, after.ID),
		map[string]any{"status": string(before.Status)},
		map[string]any{"status": string(after.Status)},
	))
}

// translateStale maps a lost conditional write to the lifecycle error the
// caller validated against.
func translateStale(err error, from, to contract.Status) error {
	if errors.Is(err, storage.ErrStaleState) {
		return apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"contract state changed concurrently",
			map[string]string{"from": string(from), "to": string(to)})
	}
	return err
}
