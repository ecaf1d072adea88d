package app

import (
	"context"
	"time"

	"github.com/Casazola49/blacklist-core/internal/services/market/domain/escrow"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
)

// Ledger is the custody read surface plus the dispute freeze. Fund movements
// that also change the contract lifecycle, deposit confirmation and payout
// release, commit through single atomic store units so the two records can
// never diverge.
type Ledger struct {
	store storage.EscrowStore
	now   func() time.Time
}

// NewLedger creates the custody service.
func NewLedger(store storage.EscrowStore, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// GetTransactionByContract returns the custody record for a contract.
func (l *Ledger) GetTransactionByContract(ctx context.Context, contractID string) (escrow.Transaction, error) {
	return l.store.GetTransactionByContract(ctx, contractID)
}

// MarkDisputed freezes the funds pending administrative resolution. Freezing
// already-frozen funds is a no-op.
func (l *Ledger) MarkDisputed(ctx context.Context, contractID string) (escrow.Transaction, bool, error) {
	tx, err := l.store.GetTransactionByContract(ctx, contractID)
	if err != nil {
		return escrow.Transaction{}, false, err
	}
	return l.store.ApplyTransaction(ctx, tx.ID, escrow.StatusDisputed, "", l.now().UTC())
}
