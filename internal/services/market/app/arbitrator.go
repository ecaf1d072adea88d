package app

import (
	"context"
	"time"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/proposal"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
	"github.com/Casazola49/blacklist-core/internal/services/notify/render"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
)

// Arbitrator manages specialist bids on open contracts. Acceptance itself is
// an orchestrator operation; the arbitrator owns submission, withdrawal, and
// the per-specialist one-active-bid rule.
type Arbitrator struct {
	store    storage.Store
	guard    *Guard
	bus      *events.Bus
	notifier Notifier
	gate     *submissionGate
	settings settings
}

// NewArbitrator creates the proposal service. interval and burst configure
// the per-specialist submission throttle; a zero interval disables it.
func NewArbitrator(store storage.Store, guard *Guard, bus *events.Bus, notifier Notifier, interval time.Duration, burst int, opts ...Option) *Arbitrator {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Arbitrator{
		store:    store,
		guard:    guard,
		bus:      bus,
		notifier: notifier,
		gate:     newSubmissionGate(interval, burst),
		settings: s,
	}
}

// SubmitProposalInput describes one bid.
type SubmitProposalInput struct {
	ContractID string
	Price      money.Amount
	Message    string
}

// SubmitProposal places a pending bid for the authenticated specialist. A
// specialist holds at most one pending or accepted bid per contract;
// withdrawn and rejected bids do not block resubmission.
func (a *Arbitrator) SubmitProposal(ctx context.Context, input SubmitProposalInput) (proposal.Proposal, error) {
	actor, err := a.guard.RequireRole(ctx, storage.RoleSpecialist)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if !a.gate.Allow(actor.ID) {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeProposalRateLimited,
			"proposal submissions are throttled",
			map[string]string{"specialist_id": actor.ID})
	}
	c, err := a.store.GetContract(ctx, input.ContractID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if c.Status != contract.StatusOpen {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"contract is not accepting proposals",
			map[string]string{"contract_id": c.ID, "status": string(c.Status)})
	}
	blocking, err := a.store.HasBlockingProposal(ctx, c.ID, actor.ID)
	if err != nil {
		return proposal.Proposal{}, apperrors.Wrap(apperrors.CodePersistenceFailure, "check existing proposals", err)
	}
	if blocking {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeProposalDuplicate,
			"specialist already has an active proposal on this contract",
			map[string]string{"contract_id": c.ID, "specialist_id": actor.ID})
	}

	p, err := proposal.Submit(proposal.SubmitInput{
		ContractID:   c.ID,
		SpecialistID: actor.ID,
		Price:        input.Price,
		Message:      input.Message,
	}, a.settings.now, a.settings.newID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := a.store.CreateProposal(ctx, p); err != nil {
		return proposal.Proposal{}, apperrors.Wrap(apperrors.CodePersistenceFailure, "persist proposal", err)
	}

	a.publish(ctx, event.WithChange(
		event.New(event.ProposalSubmitted, actor.ID, event.ResourceProposal, p.ID),
		nil,
		map[string]any{"contract_id": c.ID, "price": p.Price.String()},
	))
	notify(ctx, a.notifier, Notification{
		RecipientID: c.ClientID,
		Topic:       render.TopicProposalReceived,
		Locale:      a.settings.locale,
		Args:        []any{money.Format(p.Price, a.settings.locale), c.Title},
	})
	return p, nil
}

// WithdrawProposal pulls back the caller's own pending bid.
func (a *Arbitrator) WithdrawProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	actor, err := a.guard.RequireRole(ctx, storage.RoleSpecialist)
	if err != nil {
		return proposal.Proposal{}, err
	}
	p, err := a.store.GetProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := p.Withdraw(actor.ID); err != nil {
		return proposal.Proposal{}, err
	}
	if err := a.store.UpdateProposalStatus(ctx, p.ID, proposal.StatusPending, proposal.StatusWithdrawn); err != nil {
		return proposal.Proposal{}, err
	}
	a.publish(ctx, event.WithChange(
		event.New(event.ProposalWithdrawn, actor.ID, event.ResourceProposal, p.ID),
		map[string]any{"status": "pending"},
		map[string]any{"status": "withdrawn"},
	))
	return p, nil
}

// ListProposals returns a contract's bids in submission order. Only the
// contract's client sees the full list; a specialist sees only their own.
func (a *Arbitrator) ListProposals(ctx context.Context, contractID string) ([]proposal.Proposal, error) {
	actor, err := a.guard.RequireActiveActor(ctx)
	if err != nil {
		return nil, err
	}
	c, err := a.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	proposals, err := a.store.ListProposals(ctx, contractID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, "list proposals", err)
	}
	if actor.ID == c.ClientID || actor.Role == storage.RoleAdmin {
		return proposals, nil
	}
	own := proposals[:0]
	for _, p := range proposals {
		if p.SpecialistID == actor.ID {
			own = append(own, p)
		}
	}
	return own, nil
}

func (a *Arbitrator) publish(ctx context.Context, evt events.Event) {
	if a.bus != nil {
		a.bus.Publish(ctx, evt)
	}
}
