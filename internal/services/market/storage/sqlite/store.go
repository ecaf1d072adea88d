// Package sqlite provides a SQLite-backed market storage implementation.
//
// Every multi-record invariant is enforced inside a single transaction with
// the contract's current lifecycle state acting as an optimistic-lock check:
// a writer that observes a stale state aborts without partial effects.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/money"
	sqlitemigrate "github.com/Casazola49/blacklist-core/internal/platform/storage/sqlitemigrate"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/contract"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/proposal"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists market state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func optionalMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := fromMillis(value.Int64)
	return &ts
}

// Open opens a SQLite market store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

const contractColumns = `id, client_id, specialist_id, title, description, deadline,
       suggested_budget, final_price, status, dispute_outcome,
       created_at, assigned_at, completed_at`

func scanContract(row interface{ Scan(...any) error }) (contract.Contract, string, error) {
	var c contract.Contract
	var deadline, createdAt int64
	var assignedAt, completedAt sql.NullInt64
	var status, outcome string
	err := row.Scan(
		&c.ID,
		&c.ClientID,
		&c.SpecialistID,
		&c.Title,
		&c.Description,
		&deadline,
		&c.SuggestedBudget,
		&c.FinalPrice,
		&status,
		&outcome,
		&createdAt,
		&assignedAt,
		&completedAt,
	)
	if err != nil {
		return contract.Contract{}, "", err
	}
	if deadline != 0 {
		c.Deadline = fromMillis(deadline)
	}
	c.Status = contract.Status(status)
	c.CreatedAt = fromMillis(createdAt)
	c.AssignedAt = fromNullMillis(assignedAt)
	c.CompletedAt = fromNullMillis(completedAt)
	return c, outcome, nil
}

// CreateContract inserts one open contract record.
func (s *Store) CreateContract(ctx context.Context, c contract.Contract) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var deadline int64
	if !c.Deadline.IsZero() {
		deadline = toMillis(c.Deadline)
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO contracts (
		   id, client_id, specialist_id, title, description, deadline,
		   suggested_budget, final_price, status, created_at, assigned_at, completed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.ClientID,
		c.SpecialistID,
		c.Title,
		c.Description,
		deadline,
		c.SuggestedBudget.Cents(),
		c.FinalPrice.Cents(),
		string(c.Status),
		toMillis(c.CreatedAt),
		optionalMillis(c.AssignedAt),
		optionalMillis(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// GetContract returns one contract by id.
func (s *Store) GetContract(ctx context.Context, contractID string) (contract.Contract, error) {
	if err := s.ready(ctx); err != nil {
		return contract.Contract{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, strings.TrimSpace(contractID))
	c, _, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Contract{}, storage.ErrNotFound
		}
		return contract.Contract{}, fmt.Errorf("get contract: %w", err)
	}
	return c, nil
}

func (s *Store) listContracts(ctx context.Context, where string, args []any, pageSize int, pageToken string) (storage.ContractPage, error) {
	if pageSize <= 0 {
		return storage.ContractPage{}, fmt.Errorf("page size must be greater than zero")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE ` + where
	if strings.TrimSpace(pageToken) != "" {
		query += ` AND id > ?`
		args = append(args, pageToken)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.ContractPage{}, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	page := storage.ContractPage{Contracts: make([]contract.Contract, 0, pageSize)}
	for rows.Next() {
		c, _, err := scanContract(rows)
		if err != nil {
			return storage.ContractPage{}, fmt.Errorf("list contracts: %w", err)
		}
		page.Contracts = append(page.Contracts, c)
	}
	if err := rows.Err(); err != nil {
		return storage.ContractPage{}, fmt.Errorf("list contracts: %w", err)
	}
	if len(page.Contracts) > pageSize {
		page.NextPageToken = page.Contracts[pageSize-1].ID
		page.Contracts = page.Contracts[:pageSize]
	}
	return page, nil
}

// ListContractsByClient returns one page of the client's contracts.
func (s *Store) ListContractsByClient(ctx context.Context, clientID string, pageSize int, pageToken string) (storage.ContractPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ContractPage{}, err
	}
	return s.listContracts(ctx, "client_id = ?", []any{strings.TrimSpace(clientID)}, pageSize, pageToken)
}

// ListOpenContracts returns one page of contracts accepting proposals.
func (s *Store) ListOpenContracts(ctx context.Context, pageSize int, pageToken string) (storage.ContractPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ContractPage{}, err
	}
	return s.listContracts(ctx, "status = ?", []any{string(contract.StatusOpen)}, pageSize, pageToken)
}

// TransitionContract performs a conditional lifecycle write keyed on from.
func (s *Store) TransitionContract(ctx context.Context, contractID string, from, to contract.Status, completedAt *time.Time) (contract.Contract, error) {
	if err := s.ready(ctx); err != nil {
		return contract.Contract{}, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE contracts SET status = ?, completed_at = COALESCE(?, completed_at)
		  WHERE id = ? AND status = ?`,
		string(to), optionalMillis(completedAt), contractID, string(from))
	if err != nil {
		return contract.Contract{}, fmt.Errorf("transition contract: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return contract.Contract{}, fmt.Errorf("transition contract: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetContract(ctx, contractID); getErr != nil {
			return contract.Contract{}, getErr
		}
		return contract.Contract{}, storage.ErrStaleState
	}
	return s.GetContract(ctx, contractID)
}

// AcceptProposal applies the acceptance unit in one transaction.
func (s *Store) AcceptProposal(ctx context.Context, contractID, proposalID string, now time.Time, txID string) (storage.AcceptOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return storage.AcceptOutcome{}, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, contractID)
	c, _, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AcceptOutcome{}, storage.ErrNotFound
		}
		return storage.AcceptOutcome{}, fmt.Errorf("read contract: %w", err)
	}

	winner, err := scanProposalRow(tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, proposalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AcceptOutcome{}, storage.ErrNotFound
		}
		return storage.AcceptOutcome{}, fmt.Errorf("read proposal: %w", err)
	}
	if winner.ContractID != c.ID {
		return storage.AcceptOutcome{}, apperrors.New(apperrors.CodeProposalWrongContract, "proposal belongs to another contract")
	}
	if winner.Status != proposal.StatusPending {
		return storage.AcceptOutcome{}, apperrors.WithMetadata(apperrors.CodeProposalNotPending,
			"proposal is not pending",
			map[string]string{"proposal_id": winner.ID, "status": string(winner.Status)})
	}

	// Assignment validated in the domain, persisted conditionally below.
	clock := func() time.Time { return now }
	if err := c.Assign(winner.SpecialistID, winner.Price, clock); err != nil {
		return storage.AcceptOutcome{}, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE contracts
		    SET specialist_id = ?, final_price = ?, status = ?, assigned_at = ?
		  WHERE id = ? AND status = ?`,
		c.SpecialistID, c.FinalPrice.Cents(), string(contract.StatusAwaitingDeposit),
		toMillis(now), c.ID, string(contract.StatusOpen))
	if err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("assign contract: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("assign contract: %w", err)
	} else if affected == 0 {
		return storage.AcceptOutcome{}, storage.ErrStaleState
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE proposals SET status = ? WHERE id = ? AND status = ?`,
		string(proposal.StatusAccepted), winner.ID, string(proposal.StatusPending))
	if err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("accept proposal: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("accept proposal: %w", err)
	} else if affected == 0 {
		return storage.AcceptOutcome{}, storage.ErrStaleState
	}
	winner.Status = proposal.StatusAccepted

	rejectedRows, err := tx.QueryContext(ctx,
		`SELECT id FROM proposals WHERE contract_id = ? AND status = ? AND id <> ?`,
		c.ID, string(proposal.StatusPending), winner.ID)
	if err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("list losing proposals: %w", err)
	}
	var rejectedIDs []string
	for rejectedRows.Next() {
		var rejectedID string
		if err := rejectedRows.Scan(&rejectedID); err != nil {
			_ = rejectedRows.Close()
			return storage.AcceptOutcome{}, fmt.Errorf("list losing proposals: %w", err)
		}
		rejectedIDs = append(rejectedIDs, rejectedID)
	}
	if err := rejectedRows.Err(); err != nil {
		_ = rejectedRows.Close()
		return storage.AcceptOutcome{}, fmt.Errorf("list losing proposals: %w", err)
	}
	_ = rejectedRows.Close()

	if len(rejectedIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ? WHERE contract_id = ? AND status = ? AND id <> ?`,
			string(proposal.StatusRejected), c.ID, string(proposal.StatusPending), winner.ID); err != nil {
			return storage.AcceptOutcome{}, fmt.Errorf("reject losing proposals: %w", err)
		}
	}

	escrowTx, err := escrow.Create(escrow.CreateInput{
		ContractID:   c.ID,
		ClientID:     c.ClientID,
		SpecialistID: c.SpecialistID,
		Amount:       c.FinalPrice,
	}, func() (string, error) { return txID, nil })
	if err != nil {
		return storage.AcceptOutcome{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_transactions (
		   id, contract_id, client_id, specialist_id, amount, commission, payout, status
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		escrowTx.ID, escrowTx.ContractID, escrowTx.ClientID, escrowTx.SpecialistID,
		escrowTx.Amount.Cents(), escrowTx.Commission.Cents(), escrowTx.Payout.Cents(),
		string(escrowTx.Status)); err != nil {
		if isUniqueViolation(err) {
			return storage.AcceptOutcome{}, apperrors.New(apperrors.CodeEscrowActiveExists, "contract already has an active escrow transaction")
		}
		return storage.AcceptOutcome{}, fmt.Errorf("create escrow transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.AcceptOutcome{}, fmt.Errorf("commit accept transaction: %w", err)
	}
	return storage.AcceptOutcome{
		Contract:    c,
		Accepted:    winner,
		RejectedIDs: rejectedIDs,
		Transaction: escrowTx,
	}, nil
}

// ResolveDispute applies the terminal dispute outcome in one transaction.
func (s *Store) ResolveDispute(ctx context.Context, contractID string, outcome storage.DisputeOutcome, now time.Time) (storage.ResolveOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ResolveOutcome{}, err
	}
	if !outcome.Valid() {
		return storage.ResolveOutcome{}, apperrors.New(apperrors.CodeDisputeInvalidOutcome, "dispute outcome must be client or specialist")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.ResolveOutcome{}, fmt.Errorf("begin resolve transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, contractID)
	c, recorded, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ResolveOutcome{}, storage.ErrNotFound
		}
		return storage.ResolveOutcome{}, fmt.Errorf("read contract: %w", err)
	}

	escrowTx, err := scanTransactionRow(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE contract_id = ?`, contractID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ResolveOutcome{}, storage.ErrNotFound
		}
		return storage.ResolveOutcome{}, fmt.Errorf("read escrow transaction: %w", err)
	}

	if recorded != "" {
		if recorded == string(outcome) {
			return storage.ResolveOutcome{Contract: c, Transaction: escrowTx, Applied: false}, nil
		}
		return storage.ResolveOutcome{}, apperrors.WithMetadata(apperrors.CodeDisputeAlreadyResolved,
			"dispute already resolved with a different outcome",
			map[string]string{"contract_id": contractID, "outcome": recorded})
	}
	if c.Status != contract.StatusDisputed {
		return storage.ResolveOutcome{}, apperrors.WithMetadata(apperrors.CodeContractInvalidTransition,
			"contract is not disputed",
			map[string]string{"contract_id": contractID, "status": string(c.Status)})
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
	if _, err := escrowTx.Apply(escrowTarget, clock); err != nil {
		return storage.ResolveOutcome{}, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE contracts SET status = ?, dispute_outcome = ?, completed_at = ?
		  WHERE id = ? AND status = ? AND dispute_outcome = ''`,
		string(contractTarget), string(outcome), optionalMillis(c.CompletedAt),
		contractID, string(contract.StatusDisputed))
	if err != nil {
		return storage.ResolveOutcome{}, fmt.Errorf("resolve contract: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return storage.ResolveOutcome{}, fmt.Errorf("resolve contract: %w", err)
	} else if affected == 0 {
		return storage.ResolveOutcome{}, apperrors.New(apperrors.CodeDisputeAlreadyResolved, "dispute resolved concurrently")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE escrow_transactions SET status = ?, released_at = ? WHERE id = ?`,
		string(escrowTarget), optionalMillis(escrowTx.ReleasedAt), escrowTx.ID); err != nil {
		return storage.ResolveOutcome{}, fmt.Errorf("resolve escrow transaction: %w", err)
	}

	if escrowTarget == escrow.StatusReleased && escrowTx.SpecialistID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE actors SET earnings = earnings + ?, updated_at = ? WHERE id = ?`,
			escrowTx.Payout.Cents(), toMillis(now), escrowTx.SpecialistID); err != nil {
			return storage.ResolveOutcome{}, fmt.Errorf("credit specialist earnings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ResolveOutcome{}, fmt.Errorf("commit resolve transaction: %w", err)
	}
	return storage.ResolveOutcome{Contract: c, Transaction: escrowTx, Applied: true}, nil
}

// ConfirmDeposit moves escrow and contract into funds_held in one transaction.
func (s *Store) ConfirmDeposit(ctx context.Context, contractID, reference string, now time.Time) (storage.SettleOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SettleOutcome{}, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.SettleOutcome{}, fmt.Errorf("begin deposit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, record, err := readSettlementPair(ctx, tx, contractID)
	if err != nil {
		return storage.SettleOutcome{}, err
	}

	escrowFrom := record.Status
	clock := func() time.Time { return now }
	changed, err := record.Apply(escrow.StatusFundsHeld, clock)
	if err != nil {
		return storage.SettleOutcome{}, err
	}
	if changed && c.Status != contract.StatusAwaitingDeposit {
		// Funds would enter custody for a contract that already left the
		// deposit phase, for example one cancelled before paying.
		return storage.SettleOutcome{}, storage.ErrStaleState
	}
	applied := false
	if changed {
		if reference != "" {
			record.Reference = reference
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE escrow_transactions SET status = ?, reference = ?, deposited_at = ?
			  WHERE id = ? AND status = ?`,
			string(record.Status), record.Reference, optionalMillis(record.DepositedAt),
			record.ID, string(escrowFrom))
		if err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("confirm deposit: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("confirm deposit: %w", err)
		} else if affected == 0 {
			return storage.SettleOutcome{}, storage.ErrStaleState
		}
		applied = true
	}

	// The contract write replays even when the funds were already recorded,
	// so a retry converges both records onto funds_held.
	if c.Status == contract.StatusAwaitingDeposit {
		if err := c.Transition(contract.StatusFundsHeld, clock); err != nil {
			return storage.SettleOutcome{}, err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE contracts SET status = ? WHERE id = ? AND status = ?`,
			string(contract.StatusFundsHeld), c.ID, string(contract.StatusAwaitingDeposit))
		if err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("open working phase: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("open working phase: %w", err)
		} else if affected == 0 {
			return storage.SettleOutcome{}, storage.ErrStaleState
		}
		applied = true
	}

	if !applied {
		return storage.SettleOutcome{Contract: c, Transaction: record, Applied: false}, nil
	}
	if err := tx.Commit(); err != nil {
		return storage.SettleOutcome{}, fmt.Errorf("commit deposit transaction: %w", err)
	}
	return storage.SettleOutcome{Contract: c, Transaction: record, Applied: true}, nil
}

// CompleteContract applies the approval unit in one transaction: contract
// completed, payout released, specialist earnings credited.
func (s *Store) CompleteContract(ctx context.Context, contractID string, now time.Time) (storage.SettleOutcome, error) {
	if err := s.ready(ctx); err != nil {
		return storage.SettleOutcome{}, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.SettleOutcome{}, fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, record, err := readSettlementPair(ctx, tx, contractID)
	if err != nil {
		return storage.SettleOutcome{}, err
	}

	clock := func() time.Time { return now }
	applied := false
	// The contract side validates first: an undelivered contract must fail
	// before any funds move.
	if c.Status != contract.StatusCompleted {
		contractFrom := c.Status
		if err := c.Transition(contract.StatusCompleted, clock); err != nil {
			return storage.SettleOutcome{}, err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE contracts SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(contract.StatusCompleted), optionalMillis(c.CompletedAt),
			c.ID, string(contractFrom))
		if err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("complete contract: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("complete contract: %w", err)
		} else if affected == 0 {
			return storage.SettleOutcome{}, storage.ErrStaleState
		}
		applied = true
	}

	escrowFrom := record.Status
	changed, err := record.Apply(escrow.StatusReleased, clock)
	if err != nil {
		return storage.SettleOutcome{}, err
	}
	if changed {
		result, err := tx.ExecContext(ctx,
			`UPDATE escrow_transactions SET status = ?, released_at = ?
			  WHERE id = ? AND status = ?`,
			string(record.Status), optionalMillis(record.ReleasedAt),
			record.ID, string(escrowFrom))
		if err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("release payout: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return storage.SettleOutcome{}, fmt.Errorf("release payout: %w", err)
		} else if affected == 0 {
			return storage.SettleOutcome{}, storage.ErrStaleState
		}
		if record.SpecialistID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE actors SET earnings = earnings + ?, updated_at = ? WHERE id = ?`,
				record.Payout.Cents(), toMillis(now), record.SpecialistID); err != nil {
				return storage.SettleOutcome{}, fmt.Errorf("credit specialist earnings: %w", err)
			}
		}
		applied = true
	}

	if !applied {
		return storage.SettleOutcome{Contract: c, Transaction: record, Applied: false}, nil
	}
	if err := tx.Commit(); err != nil {
		return storage.SettleOutcome{}, fmt.Errorf("commit approval transaction: %w", err)
	}
	return storage.SettleOutcome{Contract: c, Transaction: record, Applied: true}, nil
}

func readSettlementPair(ctx context.Context, tx *sql.Tx, contractID string) (contract.Contract, escrow.Transaction, error) {
	c, _, err := scanContract(tx.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, contractID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Contract{}, escrow.Transaction{}, storage.ErrNotFound
		}
		return contract.Contract{}, escrow.Transaction{}, fmt.Errorf("read contract: %w", err)
	}
	record, err := scanTransactionRow(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE contract_id = ?`, contractID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contract.Contract{}, escrow.Transaction{}, storage.ErrNotFound
		}
		return contract.Contract{}, escrow.Transaction{}, fmt.Errorf("read escrow transaction: %w", err)
	}
	return c, record, nil
}

const proposalColumns = `id, contract_id, specialist_id, price, message, status, submitted_at`

func scanProposalRow(row interface{ Scan(...any) error }) (proposal.Proposal, error) {
	var p proposal.Proposal
	var status string
	var submittedAt int64
	err := row.Scan(&p.ID, &p.ContractID, &p.SpecialistID, &p.Price, &p.Message, &status, &submittedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	p.Status = proposal.Status(status)
	p.SubmittedAt = fromMillis(submittedAt)
	return p, nil
}

// CreateProposal inserts one pending proposal record.
func (s *Store) CreateProposal(ctx context.Context, p proposal.Proposal) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO proposals (id, contract_id, specialist_id, price, message, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.SpecialistID, p.Price.Cents(), p.Message, string(p.Status), toMillis(p.SubmittedAt))
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

// GetProposal returns one proposal by id.
func (s *Store) GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return proposal.Proposal{}, err
	}
	p, err := scanProposalRow(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, strings.TrimSpace(proposalID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return proposal.Proposal{}, storage.ErrNotFound
		}
		return proposal.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// ListProposals returns a contract's proposals in submission order.
func (s *Store) ListProposals(ctx context.Context, contractID string) ([]proposal.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE contract_id = ? ORDER BY submitted_at ASC, id ASC`,
		strings.TrimSpace(contractID))
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []proposal.Proposal
	for rows.Next() {
		p, err := scanProposalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list proposals: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// HasBlockingProposal reports whether the specialist already has a pending
// or accepted proposal on the contract.
func (s *Store) HasBlockingProposal(ctx context.Context, contractID, specialistID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposals
		  WHERE contract_id = ? AND specialist_id = ? AND status IN (?, ?)`,
		strings.TrimSpace(contractID), strings.TrimSpace(specialistID),
		string(proposal.StatusPending), string(proposal.StatusAccepted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check blocking proposal: %w", err)
	}
	return count > 0, nil
}

// UpdateProposalStatus performs a conditional status write keyed on from.
func (s *Store) UpdateProposalStatus(ctx context.Context, proposalID string, from, to proposal.Status) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE proposals SET status = ? WHERE id = ? AND status = ?`,
		string(to), proposalID, string(from))
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetProposal(ctx, proposalID); getErr != nil {
			return getErr
		}
		return storage.ErrStaleState
	}
	return nil
}

const transactionColumns = `id, contract_id, client_id, specialist_id, amount, commission, payout,
       status, reference, deposited_at, released_at`

func scanTransactionRow(row interface{ Scan(...any) error }) (escrow.Transaction, error) {
	var t escrow.Transaction
	var status string
	var depositedAt, releasedAt sql.NullInt64
	err := row.Scan(&t.ID, &t.ContractID, &t.ClientID, &t.SpecialistID,
		&t.Amount, &t.Commission, &t.Payout, &status, &t.Reference, &depositedAt, &releasedAt)
	if err != nil {
		return escrow.Transaction{}, err
	}
	t.Status = escrow.Status(status)
	t.DepositedAt = fromNullMillis(depositedAt)
	t.ReleasedAt = fromNullMillis(releasedAt)
	return t, nil
}

// GetTransaction returns one escrow transaction by id.
func (s *Store) GetTransaction(ctx context.Context, txID string) (escrow.Transaction, error) {
	if err := s.ready(ctx); err != nil {
		return escrow.Transaction{}, err
	}
	t, err := scanTransactionRow(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE id = ?`, strings.TrimSpace(txID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return escrow.Transaction{}, storage.ErrNotFound
		}
		return escrow.Transaction{}, fmt.Errorf("get escrow transaction: %w", err)
	}
	return t, nil
}

// GetTransactionByContract returns the contract's escrow transaction.
func (s *Store) GetTransactionByContract(ctx context.Context, contractID string) (escrow.Transaction, error) {
	if err := s.ready(ctx); err != nil {
		return escrow.Transaction{}, err
	}
	t, err := scanTransactionRow(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE contract_id = ?`, strings.TrimSpace(contractID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return escrow.Transaction{}, storage.ErrNotFound
		}
		return escrow.Transaction{}, fmt.Errorf("get escrow transaction: %w", err)
	}
	return t, nil
}

// ApplyTransaction moves custody state inside one write. Releasing funds also
// credits the specialist's cumulative earnings in the same transaction.
func (s *Store) ApplyTransaction(ctx context.Context, txID string, target escrow.Status, reference string, now time.Time) (escrow.Transaction, bool, error) {
	if err := s.ready(ctx); err != nil {
		return escrow.Transaction{}, false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return escrow.Transaction{}, false, fmt.Errorf("begin escrow transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	record, err := scanTransactionRow(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM escrow_transactions WHERE id = ?`, txID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return escrow.Transaction{}, false, storage.ErrNotFound
		}
		return escrow.Transaction{}, false, fmt.Errorf("read escrow transaction: %w", err)
	}

	from := record.Status
	clock := func() time.Time { return now }
	changed, err := record.Apply(target, clock)
	if err != nil {
		return escrow.Transaction{}, false, err
	}
	if !changed {
		return record, false, nil
	}
	if reference != "" {
		record.Reference = reference
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE escrow_transactions
		    SET status = ?, reference = ?, deposited_at = ?, released_at = ?
		  WHERE id = ? AND status = ?`,
		string(record.Status), record.Reference,
		optionalMillis(record.DepositedAt), optionalMillis(record.ReleasedAt),
		record.ID, string(from))
	if err != nil {
		return escrow.Transaction{}, false, fmt.Errorf("apply escrow transaction: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return escrow.Transaction{}, false, fmt.Errorf("apply escrow transaction: %w", err)
	} else if affected == 0 {
		return escrow.Transaction{}, false, storage.ErrStaleState
	}

	if target == escrow.StatusReleased && record.SpecialistID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE actors SET earnings = earnings + ?, updated_at = ? WHERE id = ?`,
			record.Payout.Cents(), toMillis(now), record.SpecialistID); err != nil {
			return escrow.Transaction{}, false, fmt.Errorf("credit specialist earnings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return escrow.Transaction{}, false, fmt.Errorf("commit escrow transaction: %w", err)
	}
	return record, true, nil
}

// PutActor inserts or replaces one directory entry.
func (s *Store) PutActor(ctx context.Context, actor storage.Actor) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	createdAt := actor.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := actor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	state := actor.State
	if state == "" {
		state = storage.ActorActive
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO actors (id, display_name, role, state, suspension_reason, earnings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = excluded.display_name,
		   role = excluded.role,
		   state = excluded.state,
		   suspension_reason = excluded.suspension_reason,
		   updated_at = excluded.updated_at`,
		actor.ID, actor.DisplayName, string(actor.Role), string(state),
		actor.SuspensionReason, actor.Earnings.Cents(), toMillis(createdAt), toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("put actor: %w", err)
	}
	return nil
}

// GetActor returns one directory entry by id.
func (s *Store) GetActor(ctx context.Context, actorID string) (storage.Actor, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Actor{}, err
	}
	var actor storage.Actor
	var role, state string
	var earnings, createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, role, state, suspension_reason, earnings, created_at, updated_at
		   FROM actors WHERE id = ?`, strings.TrimSpace(actorID)).
		Scan(&actor.ID, &actor.DisplayName, &role, &state, &actor.SuspensionReason,
			&earnings, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Actor{}, storage.ErrNotFound
		}
		return storage.Actor{}, fmt.Errorf("get actor: %w", err)
	}
	actor.Role = storage.ActorRole(role)
	actor.State = storage.ActorState(state)
	actor.Earnings = money.FromCents(earnings)
	actor.CreatedAt = fromMillis(createdAt)
	actor.UpdatedAt = fromMillis(updatedAt)
	return actor, nil
}

// SuspendActor marks the actor suspended; repeat calls are no-ops.
func (s *Store) SuspendActor(ctx context.Context, actorID, reason string, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE actors SET state = ?, suspension_reason = ?, updated_at = ?
		  WHERE id = ? AND state <> ?`,
		string(storage.ActorSuspended), reason, toMillis(now),
		strings.TrimSpace(actorID), string(storage.ActorSuspended))
	if err != nil {
		return false, fmt.Errorf("suspend actor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("suspend actor: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetActor(ctx, actorID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// AddEarnings increments a specialist's cumulative earnings.
func (s *Store) AddEarnings(ctx context.Context, actorID string, delta money.Amount, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE actors SET earnings = earnings + ?, updated_at = ? WHERE id = ?`,
		delta.Cents(), toMillis(now), strings.TrimSpace(actorID))
	if err != nil {
		return fmt.Errorf("add earnings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add earnings: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateActorRole changes the directory role, returning the previous one.
func (s *Store) UpdateActorRole(ctx context.Context, actorID string, role storage.ActorRole, now time.Time) (storage.ActorRole, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	actor, err := s.GetActor(ctx, actorID)
	if err != nil {
		return "", err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE actors SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), toMillis(now), actor.ID); err != nil {
		return "", fmt.Errorf("update actor role: %w", err)
	}
	return actor.Role, nil
}

// UpdateActorProfile changes display metadata, returning the previous name.
func (s *Store) UpdateActorProfile(ctx context.Context, actorID, displayName string, now time.Time) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	actor, err := s.GetActor(ctx, actorID)
	if err != nil {
		return "", err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE actors SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, toMillis(now), actor.ID); err != nil {
		return "", fmt.Errorf("update actor profile: %w", err)
	}
	return actor.DisplayName, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed")
}

var _ storage.Store = (*Store)(nil)
