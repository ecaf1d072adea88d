package app

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/proposal"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
	"github.com/Casazola49/blacklist-core/internal/services/notify/render"
)

// memStore is an in-memory storage.Store with the same conditional-write
// semantics as the sqlite implementation.
type memStore struct {
	mu           sync.Mutex
	contracts    map[string]contract.Contract
	outcomes     map[string]storage.DisputeOutcome
	proposals    map[string]proposal.Proposal
	transactions map[string]escrow.Transaction
	actors       map[string]storage.Actor

	// Failure counters injected by tests. A positive counter makes the next
	// settlement unit fail whole, like a rolled-back transaction.
	confirmFailures  int
	completeFailures int
}

func newMemStore() *memStore {
	return &memStore{
		contracts:    make(map[string]contract.Contract),
		outcomes:     make(map[string]storage.DisputeOutcome),
		proposals:    make(map[string]proposal.Proposal),
		transactions: make(map[string]escrow.Transaction),
		actors:       make(map[string]storage.Actor),
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateContract(_ context.Context, c contract.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = c
	return nil
}

func (m *memStore) GetContract(_ context.Context, contractID string) (contract.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return contract.Contract{}, storage.ErrNotFound
	}
	return c, nil
}

func (m *memStore) listContracts(filter func(contract.Contract) bool, pageSize int, pageToken string) (storage.ContractPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []contract.Contract
	for _, c := range m.contracts {
		if filter(c) && c.ID > pageToken {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	page := storage.ContractPage{}
	if len(matched) > pageSize {
		page.NextPageToken = matched[pageSize-1].ID
		matched = matched[:pageSize]
	}
	page.Contracts = matched
	return page, nil
}

func (m *memStore) ListContractsByClient(_ context.Context, clientID string, pageSize int, pageToken string) (storage.ContractPage, error) {
	return m.listContracts(func(c contract.Contract) bool { return c.ClientID == clientID }, pageSize, pageToken)
}

func (m *memStore) ListOpenContracts(_ context.Context, pageSize int, pageToken string) (storage.ContractPage, error) {
	return m.listContracts(func(c contract.Contract) bool { return c.Status == contract.StatusOpen }, pageSize, pageToken)
}

func (m *memStore) TransitionContract(_ context.Context, contractID string, from, to contract.Status, completedAt *time.Time) (contract.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return contract.Contract{}, storage.ErrNotFound
	}
	if c.Status != from {
		return contract.Contract{}, storage.ErrStaleState
	}
	c.Status = to
	if completedAt != nil {
		c.CompletedAt = completedAt
	}
	m.contracts[contractID] = c
	return c, nil
}

func (m *memStore) AcceptProposal(_ context.Context, contractID, proposalID string, now time.Time, txID string) (storage.AcceptOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return storage.AcceptOutcome{}, storage.ErrNotFound
	}
	winner, ok := m.proposals[proposalID]
	if !ok {
		return storage.AcceptOutcome{}, storage.ErrNotFound
	}
	if winner.ContractID != contractID {
		return storage.AcceptOutcome{}, apperrors.New(apperrors.CodeProposalWrongContract, "proposal belongs to another contract")
	}
	if winner.Status != proposal.StatusPending {
		return storage.AcceptOutcome{}, apperrors.New(apperrors.CodeProposalNotPending, "proposal is not pending")
	}
	if c.Status != contract.StatusOpen {
		return storage.AcceptOutcome{}, storage.ErrStaleState
	}
	clock := func() time.Time { return now }
	if err := c.Assign(winner.SpecialistID, winner.Price, clock); err != nil {
		return storage.AcceptOutcome{}, err
	}
	winner.Status = proposal.StatusAccepted
	m.proposals[winner.ID] = winner
	var rejectedIDs []string
	for pid, p := range m.proposals {
		if p.ContractID == contractID && p.Status == proposal.StatusPending {
			p.Status = proposal.StatusRejected
			m.proposals[pid] = p
			rejectedIDs = append(rejectedIDs, pid)
		}
	}
	tx, err := escrow.Create(escrow.CreateInput{
		ContractID:   c.ID,
		ClientID:     c.ClientID,
		SpecialistID: c.SpecialistID,
		Amount:       c.FinalPrice,
	}, func() (string, error) { return txID, nil })
	if err != nil {
		return storage.AcceptOutcome{}, err
	}
	m.transactions[tx.ID] = tx
	m.contracts[c.ID] = c
	return storage.AcceptOutcome{Contract: c, Accepted: winner, RejectedIDs: rejectedIDs, Transaction: tx}, nil
}

func (m *memStore) transactionByContract(contractID string) (escrow.Transaction, bool) {
	for _, tx := range m.transactions {
		if tx.ContractID == contractID {
			return tx, true
		}
	}
	return escrow.Transaction{}, false
}

func (m *memStore) ConfirmDeposit(_ context.Context, contractID, reference string, now time.Time) (storage.SettleOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmFailures > 0 {
		m.confirmFailures--
		return storage.SettleOutcome{}, apperrors.New(apperrors.CodePersistenceFailure, "settlement write interrupted")
	}
	c, ok := m.contracts[contractID]
	if !ok {
		return storage.SettleOutcome{}, storage.ErrNotFound
	}
	tx, found := m.transactionByContract(contractID)
	if !found {
		return storage.SettleOutcome{}, storage.ErrNotFound
	}
	clock := func() time.Time { return now }
	changed, err := tx.Apply(escrow.StatusFundsHeld, clock)
	if err != nil {
		return storage.SettleOutcome{}, err
	}
	if changed && c.Status != contract.StatusAwaitingDeposit {
		return storage.SettleOutcome{}, storage.ErrStaleState
	}
	applied := false
	if changed {
		if reference != "" {
			tx.Reference = reference
		}
		applied = true
	}
	if c.Status == contract.StatusAwaitingDeposit {
		if err := c.Transition(contract.StatusFundsHeld, clock); err != nil {
			return storage.SettleOutcome{}, err
		}
		applied = true
	}
	if !applied {
		return storage.SettleOutcome{Contract: c, Transaction: tx, Applied: false}, nil
	}
	m.contracts[c.ID] = c
	m.transactions[tx.ID] = tx
	return storage.SettleOutcome{Contract: c, Transaction: tx, Applied: true}, nil
}

func (m *memStore) CompleteContract(_ context.Context, contractID string, now time.Time) (storage.SettleOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeFailures > 0 {
		m.completeFailures--
		return storage.SettleOutcome{}, apperrors.New(apperrors.CodePersistenceFailure, "settlement write interrupted")
	}
	c, ok := m.contracts[contractID]
	if !ok {
		return storage.SettleOutcome{}, storage.ErrNotFound
	}
	tx, found := m.transactionByContract(contractID)
	if !found {
		return storage.SettleOutcome{}, storage.ErrNotFound
	}
	clock := func() time.Time { return now }
	applied := false
	if c.Status != contract.StatusCompleted {
		if err := c.Transition(contract.StatusCompleted, clock); err != nil {
			return storage.SettleOutcome{}, err
		}
		applied = true
	}
	changed, err := tx.Apply(escrow.StatusReleased, clock)
	if err != nil {
		return storage.SettleOutcome{}, err
	}
	if changed {
		actor := m.actors[tx.SpecialistID]
		actor.Earnings += tx.Payout
		m.actors[tx.SpecialistID] = actor
		applied = true
	}
	if !applied {
		return storage.SettleOutcome{Contract: c, Transaction: tx, Applied: false}, nil
	}
	m.contracts[c.ID] = c
	m.transactions[tx.ID] = tx
	return storage.SettleOutcome{Contract: c, Transaction: tx, Applied: true}, nil
}

func (m *memStore) ResolveDispute(_ context.Context, contractID string, outcome storage.DisputeOutcome, now time.Time) (storage.ResolveOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return storage.ResolveOutcome{}, storage.ErrNotFound
	}
	var tx escrow.Transaction
	found := false
	for _, candidate := range m.transactions {
		if candidate.ContractID == contractID {
			tx, found = candidate, true
			break
		}
	}
	if !found {
		return storage.ResolveOutcome{}, storage.ErrNotFound
	}
	if recorded, ok := m.outcomes[contractID]; ok {
		if recorded == outcome {
			return storage.ResolveOutcome{Contract: c, Transaction: tx, Applied: false}, nil
		}
		return storage.ResolveOutcome{}, apperrors.New(apperrors.CodeDisputeAlreadyResolved, "dispute already resolved")
	}
	if c.Status != contract.StatusDisputed {
		return storage.ResolveOutcome{}, apperrors.New(apperrors.CodeContractInvalidTransition, "contract is not disputed")
	}
	contractTarget := contract.StatusCompleted
	escrowTarget := escrow.StatusReleased
	if outcome == storage.OutcomeClient {
		contractTarget = contract.StatusCancelled
		escrowTarget = escrow.StatusRefunded
	}
	clock := func() time.Time { return now }
	if err := c.Transition(contractTarget, clock); err != nil {
		return storage.ResolveOutcome{}, err
	}
	if _, err := tx.Apply(escrowTarget, clock); err != nil {
		return storage.ResolveOutcome{}, err
	}
	if escrowTarget == escrow.StatusReleased {
		actor := m.actors[tx.SpecialistID]
		actor.Earnings += tx.Payout
		m.actors[tx.SpecialistID] = actor
	}
	m.contracts[contractID] = c
	m.transactions[tx.ID] = tx
	m.outcomes[contractID] = outcome
	return storage.ResolveOutcome{Contract: c, Transaction: tx, Applied: true}, nil
}

func (m *memStore) CreateProposal(_ context.Context, p proposal.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
	return nil
}

func (m *memStore) GetProposal(_ context.Context, proposalID string) (proposal.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return proposal.Proposal{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListProposals(_ context.Context, contractID string) ([]proposal.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []proposal.Proposal
	for _, p := range m.proposals {
		if p.ContractID == contractID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SubmittedAt.Before(matched[j].SubmittedAt) })
	return matched, nil
}

func (m *memStore) HasBlockingProposal(_ context.Context, contractID, specialistID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.ContractID == contractID && p.SpecialistID == specialistID && p.Status.Blocking() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateProposalStatus(_ context.Context, proposalID string, from, to proposal.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Status != from {
		return storage.ErrStaleState
	}
	p.Status = to
	m.proposals[proposalID] = p
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, txID string) (escrow.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return escrow.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (m *memStore) GetTransactionByContract(_ context.Context, contractID string) (escrow.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.ContractID == contractID {
			return tx, nil
		}
	}
	return escrow.Transaction{}, storage.ErrNotFound
}

func (m *memStore) ApplyTransaction(_ context.Context, txID string, target escrow.Status, reference string, now time.Time) (escrow.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return escrow.Transaction{}, false, storage.ErrNotFound
	}
	clock := func() time.Time { return now }
	changed, err := tx.Apply(target, clock)
	if err != nil {
		return escrow.Transaction{}, false, err
	}
	if !changed {
		return tx, false, nil
	}
	if reference != "" {
		tx.Reference = reference
	}
	if target == escrow.StatusReleased {
		actor := m.actors[tx.SpecialistID]
		actor.Earnings += tx.Payout
		m.actors[tx.SpecialistID] = actor
	}
	m.transactions[txID] = tx
	return tx, true, nil
}

func (m *memStore) PutActor(_ context.Context, actor storage.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actor.ID] = actor
	return nil
}

func (m *memStore) GetActor(_ context.Context, actorID string) (storage.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[actorID]
	if !ok {
		return storage.Actor{}, storage.ErrNotFound
	}
	return actor, nil
}

func (m *memStore) SuspendActor(_ context.Context, actorID, reason string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[actorID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if actor.State == storage.ActorSuspended {
		return false, nil
	}
	actor.State = storage.ActorSuspended
	actor.SuspensionReason = reason
	m.actors[actorID] = actor
	return true, nil
}

func (m *memStore) AddEarnings(_ context.Context, actorID string, delta money.Amount, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[actorID]
	if !ok {
		return storage.ErrNotFound
	}
	actor.Earnings += delta
	m.actors[actorID] = actor
	return nil
}

func (m *memStore) UpdateActorRole(_ context.Context, actorID string, role storage.ActorRole, _ time.Time) (storage.ActorRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[actorID]
	if !ok {
		return "", storage.ErrNotFound
	}
	previous := actor.Role
	actor.Role = role
	m.actors[actorID] = actor
	return previous, nil
}

func (m *memStore) UpdateActorProfile(_ context.Context, actorID, displayName string, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[actorID]
	if !ok {
		return "", storage.ErrNotFound
	}
	previous := actor.DisplayName
	actor.DisplayName = displayName
	m.actors[actorID] = actor
	return previous, nil
}

var _ storage.Store = (*memStore)(nil)

// captureNotifier records delivered notifications.
type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *captureNotifier) Notify(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *captureNotifier) topics() []render.Topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	topics := make([]render.Topic, len(n.sent))
	for i, sent := range n.sent {
		topics[i] = sent.Topic
	}
	return topics
}
