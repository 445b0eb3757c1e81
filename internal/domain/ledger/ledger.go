package ledger

import (
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient_balance")
	ErrAccountNotFound   = errors.New("financial account not found")
	ErrTransferNotFound  = errors.New("transfer not found")
)

// Role distinguishes the kinds of financial accounts.
type Role string

const (
	RoleCaptain   Role = "captain"
	RolePassenger Role = "passenger"
	RoleHouse     Role = "house"
)

// Party identifies one side of a money movement.
type Party struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// HouseVault is the platform's own account receiving deductions and
// commissions.
var HouseVault = Party{ID: "main", Role: RoleHouse}

// Transfer kinds.
const (
	KindVaultDeduction = "vault_deduction" // captain -> house at acceptance
	KindCommission     = "commission"      // captain -> house at completion
	KindOverageRefund  = "overage_refund"  // captain -> passenger at completion
)

// Transfer statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Transfer is one double-entry money movement. A completed transfer has
// debited From and credited To by exactly Amount.
type Transfer struct {
	ID        string    `json:"id"`
	From      Party     `json:"from"`
	To        Party     `json:"to"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Entry is one line of an account's append-only transaction log.
type Entry struct {
	TransferID string    `json:"transfer_id"`
	Amount     int64     `json:"amount"` // positive credit, negative debit
	Kind       string    `json:"type"`
	At         time.Time `json:"at"`
}
