package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/ledger"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo is the double-entry money store over financial_accounts,
// money_transfers and ledger_entries.
type LedgerRepo struct{}

// NewLedgerRepo constructs a new LedgerRepo.
func NewLedgerRepo() ports.Ledger {
	return &LedgerRepo{}
}

// Balance returns the current balance of a party's account, zero when the
// account does not exist yet.
func (repo *LedgerRepo) Balance(ctx context.Context, p ledger.Party) (int64, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		SELECT balance FROM financial_accounts WHERE owner_id = $1 AND role = $2
	`, p.ID, string(p.Role)).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("query balance: %w", err)
	}

	return balance, nil
}

// Transfer moves amount from one account to another atomically. The source
// must cover the full amount or ledger.ErrInsufficientFunds is returned and
// nothing moves.
func (repo *LedgerRepo) Transfer(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	return repo.execute(ctx, tx, from, to, amount, kind, true)
}

// ForceTransfer moves amount even when it overdraws the source.
func (repo *LedgerRepo) ForceTransfer(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	return repo.execute(ctx, tx, from, to, amount, kind, false)
}

func (repo *LedgerRepo) execute(ctx context.Context, tx pgx.Tx, from, to ledger.Party, amount int64, kind string, checkFunds bool) (*ledger.Transfer, error) {
	if err := repo.moveFunds(ctx, tx, from, to, amount, checkFunds); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	transfer := &ledger.Transfer{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Status:    ledger.StatusCompleted,
		CreatedAt: now,
		SettledAt: &now,
	}
	if err := repo.insertTransfer(ctx, tx, transfer); err != nil {
		return nil, err
	}
	if err := repo.insertEntries(ctx, tx, transfer); err != nil {
		return nil, err
	}

	return transfer, nil
}

// EnqueuePending records a transfer to be settled later. No balances move.
func (repo *LedgerRepo) EnqueuePending(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	transfer := &ledger.Transfer{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Status:    ledger.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.insertTransfer(ctx, tx, transfer); err != nil {
		return nil, err
	}

	return transfer, nil
}

// PendingTransfers lists unsettled transfers, oldest first.
func (repo *LedgerRepo) PendingTransfers(ctx context.Context) ([]*ledger.Transfer, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, from_owner, from_role, to_owner, to_role, amount, kind, status, created_at, settled_at
		FROM money_transfers
		WHERE status = $1
		ORDER BY created_at ASC
	`, ledger.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending transfers: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transfer
	for rows.Next() {
		var (
			t                  ledger.Transfer
			fromRole, toRole   string
		)
		err := rows.Scan(&t.ID, &t.From.ID, &fromRole, &t.To.ID, &toRole,
			&t.Amount, &t.Kind, &t.Status, &t.CreatedAt, &t.SettledAt)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.From.Role = ledger.Role(fromRole)
		t.To.Role = ledger.Role(toRole)
		out = append(out, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// SettlePending executes a pending transfer. ledger.ErrInsufficientFunds
// leaves the row pending for a later retry.
func (repo *LedgerRepo) SettlePending(ctx context.Context, transferID string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	// lock the transfer row so concurrent settlers cannot double-spend it
	var (
		t                ledger.Transfer
		fromRole, toRole string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, from_owner, from_role, to_owner, to_role, amount, kind, status
		FROM money_transfers
		WHERE id = $1
		FOR UPDATE
	`, transferID).Scan(&t.ID, &t.From.ID, &fromRole, &t.To.ID, &toRole, &t.Amount, &t.Kind, &t.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrTransferNotFound
		}
		return fmt.Errorf("lock transfer: %w", err)
	}
	t.From.Role = ledger.Role(fromRole)
	t.To.Role = ledger.Role(toRole)

	// idempotent success
	if t.Status == ledger.StatusCompleted {
		return nil
	}

	if err := repo.moveFunds(ctx, tx, t.From, t.To, t.Amount, true); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE money_transfers SET status = $1, settled_at = $2 WHERE id = $3
	`, ledger.StatusCompleted, now, transferID)
	if err != nil {
		return fmt.Errorf("mark transfer settled: %w", err)
	}

	t.Status = ledger.StatusCompleted
	t.SettledAt = &now
	return repo.insertEntries(ctx, tx, &t)
}

// --- helpers ---

// moveFunds debits from and credits to by amount, locking both account rows.
// Rows are locked in a deterministic order to avoid deadlocks between
// concurrent transfers touching the same accounts.
func (repo *LedgerRepo) moveFunds(ctx context.Context, tx pgx.Tx, from, to ledger.Party, amount int64, checkFunds bool) error {
	// auto-create accounts at zero so first-time parties can receive money
	for _, p := range []ledger.Party{from, to} {
		_, err := tx.Exec(ctx, `
			INSERT INTO financial_accounts (owner_id, role, balance)
			VALUES ($1, $2, 0)
			ON CONFLICT (owner_id, role) DO NOTHING
		`, p.ID, string(p.Role))
		if err != nil {
			return fmt.Errorf("ensure account %s/%s: %w", p.Role, p.ID, err)
		}
	}

	// lock both rows in key order
	rows, err := tx.Query(ctx, `
		SELECT owner_id, role, balance
		FROM financial_accounts
		WHERE (owner_id = $1 AND role = $2) OR (owner_id = $3 AND role = $4)
		ORDER BY owner_id, role
		FOR UPDATE
	`, from.ID, string(from.Role), to.ID, string(to.Role))
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}

	var fromBalance int64
	for rows.Next() {
		var (
			ownerID, role string
			balance       int64
		)
		if err := rows.Scan(&ownerID, &role, &balance); err != nil {
			rows.Close()
			return fmt.Errorf("scan account: %w", err)
		}
		if ownerID == from.ID && role == string(from.Role) {
			fromBalance = balance
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	if checkFunds && fromBalance < amount {
		return ledger.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		UPDATE financial_accounts SET balance = balance - $1 WHERE owner_id = $2 AND role = $3
	`, amount, from.ID, string(from.Role))
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE financial_accounts SET balance = balance + $1 WHERE owner_id = $2 AND role = $3
	`, amount, to.ID, string(to.Role))
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}

	return nil
}

func (repo *LedgerRepo) insertTransfer(ctx context.Context, tx pgx.Tx, t *ledger.Transfer) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO money_transfers (
			id, from_owner, from_role, to_owner, to_role,
			amount, kind, status, created_at, settled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.From.ID, string(t.From.Role), t.To.ID, string(t.To.Role),
		t.Amount, t.Kind, t.Status, t.CreatedAt, t.SettledAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// insertEntries appends the debit and credit lines of a completed transfer.
func (repo *LedgerRepo) insertEntries(ctx context.Context, tx pgx.Tx, t *ledger.Transfer) error {
	at := t.CreatedAt
	if t.SettledAt != nil {
		at = *t.SettledAt
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (transfer_id, owner_id, role, amount, kind, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6),
			($1, $7, $8, $9, $5, $6)
	`, t.ID,
		t.From.ID, string(t.From.Role), -t.Amount, t.Kind, at,
		t.To.ID, string(t.To.Role), t.Amount)
	if err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}
	return nil
}
