package app

import (
	"context"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
	"github.com/Casazola49/blacklist-core/internal/services/notify/render"
)

// Resolver settles disputed contracts. Resolution is administrative only and
// idempotent: repeating a resolution with the same outcome is a no-op
// success, while a conflicting outcome is rejected.
type Resolver struct {
	store    storage.Store
	guard    *Guard
	bus      *events.Bus
	notifier Notifier
	settings settings
}

// NewResolver creates the dispute resolution service.
func NewResolver(store storage.Store, guard *Guard, bus *events.Bus, notifier Notifier, opts ...Option) *Resolver {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Resolver{
		store:    store,
		guard:    guard,
		bus:      bus,
		notifier: notifier,
		settings: s,
	}
}

// ResolveDispute settles the dispute in favor of outcome. Resolving for the
// specialist completes the contract and releases the payout; resolving for
// the client cancels the contract and refunds the deposit.
func (r *Resolver) ResolveDispute(ctx context.Context, contractID string, outcome storage.DisputeOutcome) (storage.ResolveOutcome, error) {
	admin, err := r.guard.RequireAdmin(ctx)
	if err != nil {
		return storage.ResolveOutcome{}, err
	}
	resolved, err := r.store.ResolveDispute(ctx, contractID, outcome, r.settings.now().UTC())
	if err != nil {
		return storage.ResolveOutcome{}, err
	}
	if !resolved.Applied {
		return resolved, nil
	}

	if r.bus != nil {
		r.bus.Publish(ctx, event.WithChange(
			event.New(event.DisputeResolved, admin.ID, event.ResourceContract, resolved.Contract.ID),
			map[string]any{"status": "disputed"},
			map[string]any{"status": string(resolved.Contract.Status), "outcome": string(outcome)},
		))
		fundsEvent := event.FundsReleased
		if outcome == storage.OutcomeClient {
			fundsEvent = event.FundsRefunded
		}
		r.bus.Publish(ctx, event.WithChange(
			event.New(fundsEvent, admin.ID, event.ResourceTransaction, resolved.Transaction.ID),
			map[string]any{"status": "disputed"},
			map[string]any{"status": string(resolved.Transaction.Status), "amount": resolved.Transaction.Amount.String()},
		))
	}

	r.notifyResolution(ctx, resolved, outcome)
	return resolved, nil
}

func (r *Resolver) notifyResolution(ctx context.Context, resolved storage.ResolveOutcome, outcome storage.DisputeOutcome) {
	title := resolved.Contract.Title
	for _, party := range []string{resolved.Contract.ClientID, resolved.Contract.SpecialistID} {
		notify(ctx, r.notifier, Notification{
			RecipientID: party,
			Topic:       render.TopicDisputeResolved,
			Locale:      r.settings.locale,
			Args:        []any{title, string(outcome)},
		})
	}
	if resolved.Transaction.Status == escrow.StatusReleased {
		notify(ctx, r.notifier, Notification{
			RecipientID: resolved.Contract.SpecialistID,
			Topic:       render.TopicFundsReleased,
			Locale:      r.settings.locale,
			Args:        []any{money.Format(resolved.Transaction.Payout, r.settings.locale), title},
		})
		return
	}
	notify(ctx, r.notifier, Notification{
		RecipientID: resolved.Contract.ClientID,
		Topic:       render.TopicFundsRefunded,
		Locale:      r.settings.locale,
		Args:        []any{money.Format(resolved.Transaction.Amount, r.settings.locale), title},
	})
}
