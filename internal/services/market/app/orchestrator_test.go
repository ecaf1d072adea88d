package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/platform/requestctx"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
)

type fixture struct {
	store        *memStore
	bus          *events.Bus
	published    *eventLog
	notifier     *captureNotifier
	guard        *Guard
	orchestrator *Orchestrator
	arbitrator   *Arbitrator
	resolver     *Resolver
	ledger       *Ledger
	directory    *Directory
}

type eventLog struct {
	names []string
}

func (l *eventLog) Handle(_ context.Context, evt events.Event) error {
	l.names = append(l.names, evt.Name)
	return nil
}

func (l *eventLog) count(name string) int {
	total := 0
	for _, n := range l.names {
		if n == name {
			total++
		}
	}
	return total
}

var fixtureSecret = []byte("fixture-grant-secret")

func fixtureClock() time.Time {
	return time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	bus := events.NewBus()
	published := &eventLog{}
	bus.Subscribe(published)
	notifier := &captureNotifier{}
	guard := NewGuard(store, fixtureSecret, fixtureClock)

	sequence := 0
	nextID := func() (string, error) {
		sequence++
		return fmt.Sprintf("id-%04d", sequence), nil
	}
	opts := []Option{WithClock(fixtureClock), WithIDGenerator(nextID)}

	ledger := NewLedger(store, fixtureClock)
	f := &fixture{
		store:        store,
		bus:          bus,
		published:    published,
		notifier:     notifier,
		guard:        guard,
		ledger:       ledger,
		orchestrator: NewOrchestrator(store, ledger, guard, bus, notifier, opts...),
		arbitrator:   NewArbitrator(store, guard, bus, notifier, 0, 1, opts...),
		resolver:     NewResolver(store, guard, bus, notifier, opts...),
		directory:    NewDirectory(store, guard, bus, opts...),
	}

	ctx := context.Background()
	for _, seed := range []storage.Actor{
		{ID: "client-1", DisplayName: "client one", Role: storage.RoleClient, State: storage.ActorActive},
		{ID: "client-2", DisplayName: "client two", Role: storage.RoleClient, State: storage.ActorActive},
		{ID: "spec-1", DisplayName: "specialist one", Role: storage.RoleSpecialist, State: storage.ActorActive},
		{ID: "spec-2", DisplayName: "specialist two", Role: storage.RoleSpecialist, State: storage.ActorActive},
		{ID: "admin-1", DisplayName: "admin one", Role: storage.RoleAdmin, State: storage.ActorActive},
	} {
		if err := store.PutActor(ctx, seed); err != nil {
			t.Fatalf("PutActor(%s) error = %v", seed.ID, err)
		}
	}
	return f
}

func as(actorID string) context.Context {
	return requestctx.WithActorID(context.Background(), actorID)
}

func (f *fixture) asAdmin(t *testing.T, actorID string) context.Context {
	t.Helper()
	grant, err := f.guard.IssueAdminGrant(actorID, time.Hour)
	if err != nil {
		t.Fatalf("IssueAdminGrant() error = %v", err)
	}
	return requestctx.WithAdminGrant(as(actorID), grant)
}

func (f *fixture) postContract(t *testing.T) contract.Contract {
	t.Helper()
	c, err := f.orchestrator.CreateContract(as("client-1"), CreateContractInput{
		Title:           "thesis statistics review",
		Description:     "full methodology chapter",
		Deadline:        fixtureClock().Add(168 * time.Hour),
		SuggestedBudget: money.FromCents(18000),
	})
	if err != nil {
		t.Fatalf("CreateContract() error = %v", err)
	}
	return c
}

func (f *fixture) acceptedContract(t *testing.T) (contract.Contract, storage.AcceptOutcome) {
	t.Helper()
	c := f.postContract(t)
	p, err := f.arbitrator.SubmitProposal(as("spec-1"), SubmitProposalInput{
		ContractID: c.ID,
		Price:      money.FromCents(18000),
		Message:    "available this week",
	})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	outcome, err := f.orchestrator.AcceptProposal(as("client-1"), c.ID, p.ID)
	if err != nil {
		t.Fatalf("AcceptProposal() error = %v", err)
	}
	return outcome.Contract, outcome
}

func (f *fixture) fundedContract(t *testing.T) contract.Contract {
	t.Helper()
	c, _ := f.acceptedContract(t)
	funded, err := f.orchestrator.ConfirmDeposit(as("client-1"), c.ID, "qr-ref-1")
	if err != nil {
		t.Fatalf("ConfirmDeposit() error = %v", err)
	}
	return funded
}

func TestOrchestratorHappyPath(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)
	if funded.Status != contract.StatusFundsHeld {
		t.Fatalf("status after deposit = %q, want %q", funded.Status, contract.StatusFundsHeld)
	}

	delivered, err := f.orchestrator.DeliverWork(as("spec-1"), funded.ID)
	if err != nil {
		t.Fatalf("DeliverWork() error = %v", err)
	}
	if delivered.Status != contract.StatusDelivered {
		t.Fatalf("status after delivery = %q, want %q", delivered.Status, contract.StatusDelivered)
	}

	completed, err := f.orchestrator.ApproveWork(as("client-1"), funded.ID)
	if err != nil {
		t.Fatalf("ApproveWork() error = %v", err)
	}
	if completed.Status != contract.StatusCompleted {
		t.Errorf("status after approval = %q, want %q", completed.Status, contract.StatusCompleted)
	}
	if completed.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	tx, err := f.ledger.GetTransactionByContract(context.Background(), funded.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusReleased {
		t.Errorf("escrow status = %q, want %q", tx.Status, escrow.StatusReleased)
	}
	if tx.Commission != money.FromCents(2700) || tx.Payout != money.FromCents(15300) {
		t.Errorf("split = %d/%d, want 2700/15300", tx.Commission, tx.Payout)
	}

	specialist, err := f.store.GetActor(context.Background(), "spec-1")
	if err != nil {
		t.Fatalf("GetActor() error = %v", err)
	}
	if specialist.Earnings != money.FromCents(15300) {
		t.Errorf("earnings = %d, want 15300", specialist.Earnings)
	}

	for _, name := range []string{
		event.ContractCreated, event.ProposalSubmitted, event.ProposalAccepted,
		event.TransactionCreated, event.DepositConfirmed, event.ContractUpdated,
		event.WorkDelivered, event.WorkApproved, event.FundsReleased,
	} {
		if f.published.count(name) != 1 {
			t.Errorf("event %s published %d times, want 1", name, f.published.count(name))
		}
	}
}

func TestOrchestratorCreateContractRequiresClientRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator.CreateContract(as("spec-1"), CreateContractInput{
		Title:           "thesis statistics review",
		SuggestedBudget: money.FromCents(18000),
	})
	if !apperrors.Is(err, apperrors.CodePermissionDenied) {
		t.Fatalf("CreateContract() error = %v, want %s", err, apperrors.CodePermissionDenied)
	}
}

func TestOrchestratorAcceptProposalRejectsOtherClients(t *testing.T) {
	f := newFixture(t)
	c := f.postContract(t)
	p, err := f.arbitrator.SubmitProposal(as("spec-1"), SubmitProposalInput{
		ContractID: c.ID,
		Price:      money.FromCents(18000),
	})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	if _, err := f.orchestrator.AcceptProposal(as("client-2"), c.ID, p.ID); !apperrors.Is(err, apperrors.CodePermissionDenied) {
		t.Fatalf("AcceptProposal() error = %v, want %s", err, apperrors.CodePermissionDenied)
	}
}

func TestOrchestratorAcceptProposalRejectsLosingSiblingsAndSecondWin(t *testing.T) {
	f := newFixture(t)
	c := f.postContract(t)
	first, err := f.arbitrator.SubmitProposal(as("spec-1"), SubmitProposalInput{ContractID: c.ID, Price: money.FromCents(18000)})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	second, err := f.arbitrator.SubmitProposal(as("spec-2"), SubmitProposalInput{ContractID: c.ID, Price: money.FromCents(20000)})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}

	outcome, err := f.orchestrator.AcceptProposal(as("client-1"), c.ID, first.ID)
	if err != nil {
		t.Fatalf("AcceptProposal() error = %v", err)
	}
	if len(outcome.RejectedIDs) != 1 || outcome.RejectedIDs[0] != second.ID {
		t.Errorf("rejected ids = %v, want [%s]", outcome.RejectedIDs, second.ID)
	}
	if outcome.Contract.FinalPrice != first.Price {
		t.Errorf("final price = %d, want %d", outcome.Contract.FinalPrice, first.Price)
	}

	_, err = f.orchestrator.AcceptProposal(as("client-1"), c.ID, second.ID)
	if !apperrors.Is(err, apperrors.CodeProposalNotPending) {
		t.Fatalf("second AcceptProposal() error = %v, want %s", err, apperrors.CodeProposalNotPending)
	}
}

func TestOrchestratorConfirmDepositIsIdempotent(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)

	again, err := f.orchestrator.ConfirmDeposit(as("client-1"), funded.ID, "qr-ref-2")
	if err != nil {
		t.Fatalf("repeat ConfirmDeposit() error = %v", err)
	}
	if again.Status != contract.StatusFundsHeld {
		t.Errorf("status = %q, want %q", again.Status, contract.StatusFundsHeld)
	}
	if got := f.published.count(event.DepositConfirmed); got != 1 {
		t.Errorf("deposit_confirmed published %d times, want 1", got)
	}

	tx, err := f.ledger.GetTransactionByContract(context.Background(), funded.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Reference != "qr-ref-1" {
		t.Errorf("reference = %q, want the first deposit reference", tx.Reference)
	}
}

func (f *fixture) deliveredContract(t *testing.T) contract.Contract {
	t.Helper()
	funded := f.fundedContract(t)
	delivered, err := f.orchestrator.DeliverWork(as("spec-1"), funded.ID)
	if err != nil {
		t.Fatalf("DeliverWork() error = %v", err)
	}
	return delivered
}

func TestOrchestratorConfirmDepositFailedWriteKeepsRecordsTogether(t *testing.T) {
	f := newFixture(t)
	c, _ := f.acceptedContract(t)

	f.store.confirmFailures = 1
	if _, err := f.orchestrator.ConfirmDeposit(as("client-1"), c.ID, "qr-ref-1"); err == nil {
		t.Fatal("ConfirmDeposit() succeeded, want write failure")
	}

	stored, err := f.store.GetContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetContract() error = %v", err)
	}
	if stored.Status != contract.StatusAwaitingDeposit {
		t.Errorf("contract status after failed write = %q, want %q", stored.Status, contract.StatusAwaitingDeposit)
	}
	tx, err := f.ledger.GetTransactionByContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusPendingDeposit {
		t.Errorf("escrow status after failed write = %q, want %q", tx.Status, escrow.StatusPendingDeposit)
	}

	funded, err := f.orchestrator.ConfirmDeposit(as("client-1"), c.ID, "qr-ref-1")
	if err != nil {
		t.Fatalf("retry ConfirmDeposit() error = %v", err)
	}
	if funded.Status != contract.StatusFundsHeld {
		t.Errorf("contract status after retry = %q, want %q", funded.Status, contract.StatusFundsHeld)
	}
	tx, err = f.ledger.GetTransactionByContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusFundsHeld {
		t.Errorf("escrow status after retry = %q, want %q", tx.Status, escrow.StatusFundsHeld)
	}
	if got := f.published.count(event.DepositConfirmed); got != 1 {
		t.Errorf("deposit_confirmed published %d times, want 1", got)
	}
	if got := f.published.count(event.ContractUpdated); got != 1 {
		t.Errorf("contract_updated published %d times, want 1", got)
	}
}

func TestOrchestratorConfirmDepositReplaysLostContractWrite(t *testing.T) {
	f := newFixture(t)
	c, outcome := f.acceptedContract(t)

	// Funds recorded without the matching lifecycle write.
	if _, _, err := f.store.ApplyTransaction(context.Background(), outcome.Transaction.ID,
		escrow.StatusFundsHeld, "qr-ref-1", fixtureClock()); err != nil {
		t.Fatalf("ApplyTransaction() error = %v", err)
	}

	funded, err := f.orchestrator.ConfirmDeposit(as("client-1"), c.ID, "qr-ref-1")
	if err != nil {
		t.Fatalf("ConfirmDeposit() error = %v", err)
	}
	if funded.Status != contract.StatusFundsHeld {
		t.Errorf("contract status = %q, want %q", funded.Status, contract.StatusFundsHeld)
	}
	stored, err := f.store.GetContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetContract() error = %v", err)
	}
	if stored.Status != contract.StatusFundsHeld {
		t.Errorf("stored contract status = %q, want %q", stored.Status, contract.StatusFundsHeld)
	}
	tx, err := f.ledger.GetTransactionByContract(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusFundsHeld {
		t.Errorf("escrow status = %q, want %q", tx.Status, escrow.StatusFundsHeld)
	}
}

func TestOrchestratorApproveWorkFailedWriteKeepsRecordsTogether(t *testing.T) {
	f := newFixture(t)
	delivered := f.deliveredContract(t)

	f.store.completeFailures = 1
	if _, err := f.orchestrator.ApproveWork(as("client-1"), delivered.ID); err == nil {
		t.Fatal("ApproveWork() succeeded, want write failure")
	}

	stored, err := f.store.GetContract(context.Background(), delivered.ID)
	if err != nil {
		t.Fatalf("GetContract() error = %v", err)
	}
	if stored.Status != contract.StatusDelivered {
		t.Errorf("contract status after failed write = %q, want %q", stored.Status, contract.StatusDelivered)
	}
	tx, err := f.ledger.GetTransactionByContract(context.Background(), delivered.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusFundsHeld {
		t.Errorf("escrow status after failed write = %q, want %q", tx.Status, escrow.StatusFundsHeld)
	}

	completed, err := f.orchestrator.ApproveWork(as("client-1"), delivered.ID)
	if err != nil {
		t.Fatalf("retry ApproveWork() error = %v", err)
	}
	if completed.Status != contract.StatusCompleted {
		t.Errorf("contract status after retry = %q, want %q", completed.Status, contract.StatusCompleted)
	}
	tx, err = f.ledger.GetTransactionByContract(context.Background(), delivered.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusReleased {
		t.Errorf("escrow status after retry = %q, want %q", tx.Status, escrow.StatusReleased)
	}
	specialist, err := f.store.GetActor(context.Background(), "spec-1")
	if err != nil {
		t.Fatalf("GetActor() error = %v", err)
	}
	if specialist.Earnings != money.FromCents(15300) {
		t.Errorf("earnings = %d, want 15300", specialist.Earnings)
	}
	if got := f.published.count(event.WorkApproved); got != 1 {
		t.Errorf("work_approved published %d times, want 1", got)
	}
	if got := f.published.count(event.FundsReleased); got != 1 {
		t.Errorf("funds_released published %d times, want 1", got)
	}
}

func TestOrchestratorApproveWorkReleasesPayoutForCompletedContract(t *testing.T) {
	f := newFixture(t)
	delivered := f.deliveredContract(t)

	// Contract closed without the matching custody write.
	completedAt := fixtureClock()
	if _, err := f.store.TransitionContract(context.Background(), delivered.ID,
		contract.StatusDelivered, contract.StatusCompleted, &completedAt); err != nil {
		t.Fatalf("TransitionContract() error = %v", err)
	}

	completed, err := f.orchestrator.ApproveWork(as("client-1"), delivered.ID)
	if err != nil {
		t.Fatalf("ApproveWork() error = %v", err)
	}
	if completed.Status != contract.StatusCompleted {
		t.Errorf("contract status = %q, want %q", completed.Status, contract.StatusCompleted)
	}
	tx, err := f.ledger.GetTransactionByContract(context.Background(), delivered.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusReleased {
		t.Errorf("escrow status = %q, want %q", tx.Status, escrow.StatusReleased)
	}
	specialist, err := f.store.GetActor(context.Background(), "spec-1")
	if err != nil {
		t.Fatalf("GetActor() error = %v", err)
	}
	if specialist.Earnings != money.FromCents(15300) {
		t.Errorf("earnings = %d, want 15300", specialist.Earnings)
	}
}

func TestOrchestratorApproveWorkIsIdempotent(t *testing.T) {
	f := newFixture(t)
	delivered := f.deliveredContract(t)
	if _, err := f.orchestrator.ApproveWork(as("client-1"), delivered.ID); err != nil {
		t.Fatalf("ApproveWork() error = %v", err)
	}

	again, err := f.orchestrator.ApproveWork(as("client-1"), delivered.ID)
	if err != nil {
		t.Fatalf("repeat ApproveWork() error = %v", err)
	}
	if again.Status != contract.StatusCompleted {
		t.Errorf("status = %q, want %q", again.Status, contract.StatusCompleted)
	}
	if got := f.published.count(event.FundsReleased); got != 1 {
		t.Errorf("funds_released published %d times, want 1", got)
	}
	specialist, err := f.store.GetActor(context.Background(), "spec-1")
	if err != nil {
		t.Fatalf("GetActor() error = %v", err)
	}
	if specialist.Earnings != money.FromCents(15300) {
		t.Errorf("earnings = %d, want the payout credited once", specialist.Earnings)
	}
}

func TestOrchestratorDeliverWorkRequiresAssignedSpecialist(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)
	if _, err := f.orchestrator.DeliverWork(as("spec-2"), funded.ID); !apperrors.Is(err, apperrors.CodePermissionDenied) {
		t.Fatalf("DeliverWork() error = %v, want %s", err, apperrors.CodePermissionDenied)
	}
}

func TestOrchestratorApproveWorkRequiresDelivery(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)
	if _, err := f.orchestrator.ApproveWork(as("client-1"), funded.ID); !apperrors.Is(err, apperrors.CodeContractInvalidTransition) {
		t.Fatalf("ApproveWork() error = %v, want %s", err, apperrors.CodeContractInvalidTransition)
	}
}

func TestOrchestratorCancelContract(t *testing.T) {
	f := newFixture(t)
	c := f.postContract(t)

	cancelled, err := f.orchestrator.CancelContract(as("client-1"), c.ID)
	if err != nil {
		t.Fatalf("CancelContract() error = %v", err)
	}
	if cancelled.Status != contract.StatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, contract.StatusCancelled)
	}

	// Terminal states accept no further lifecycle operations.
	if _, err := f.orchestrator.CancelContract(as("client-1"), c.ID); !apperrors.Is(err, apperrors.CodeContractInvalidTransition) {
		t.Fatalf("repeat CancelContract() error = %v, want %s", err, apperrors.CodeContractInvalidTransition)
	}
}

func TestOrchestratorDisputeFreezesFunds(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)

	disputed, err := f.orchestrator.DisputeContract(as("spec-1"), funded.ID)
	if err != nil {
		t.Fatalf("DisputeContract() error = %v", err)
	}
	if disputed.Status != contract.StatusDisputed {
		t.Errorf("contract status = %q, want %q", disputed.Status, contract.StatusDisputed)
	}
	tx, err := f.ledger.GetTransactionByContract(context.Background(), funded.ID)
	if err != nil {
		t.Fatalf("GetTransactionByContract() error = %v", err)
	}
	if tx.Status != escrow.StatusDisputed {
		t.Errorf("escrow status = %q, want %q", tx.Status, escrow.StatusDisputed)
	}
}

func TestOrchestratorDisputeRequiresContractParty(t *testing.T) {
	f := newFixture(t)
	funded := f.fundedContract(t)
	if _, err := f.orchestrator.DisputeContract(as("client-2"), funded.ID); !apperrors.Is(err, apperrors.CodePermissionDenied) {
		t.Fatalf("DisputeContract() error = %v, want %s", err, apperrors.CodePermissionDenied)
	}
}

func TestOrchestratorSuspendedActorRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.SuspendActor(context.Background(), "client-1", "security risk", fixtureClock()); err != nil {
		t.Fatalf("SuspendActor() error = %v", err)
	}
	_, err := f.orchestrator.CreateContract(as("client-1"), CreateContractInput{
		Title:           "thesis statistics review",
		SuggestedBudget: money.FromCents(18000),
	})
	if !apperrors.Is(err, apperrors.CodeActorSuspended) {
		t.Fatalf("CreateContract() error = %v, want %s", err, apperrors.CodeActorSuspended)
	}
}

func TestOrchestratorListContracts(t *testing.T) {
	f := newFixture(t)
	f.postContract(t)
	f.postContract(t)

	own, err := f.orchestrator.ListClientContracts(as("client-1"), 10, "")
	if err != nil {
		t.Fatalf("ListClientContracts() error = %v", err)
	}
	if len(own.Contracts) != 2 {
		t.Errorf("own contracts = %d, want 2", len(own.Contracts))
	}

	open, err := f.orchestrator.ListOpenContracts(as("spec-1"), 10, "")
	if err != nil {
		t.Fatalf("ListOpenContracts() error = %v", err)
	}
	if len(open.Contracts) != 2 {
		t.Errorf("open contracts = %d, want 2", len(open.Contracts))
	}
}
