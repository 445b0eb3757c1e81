package postgres

import (
	"context"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/ledger"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// CaptainRepo reads captain profiles for dispatch eligibility checks.
type CaptainRepo struct{}

// NewCaptainRepo constructs a new CaptainRepo.
func NewCaptainRepo() ports.CaptainRepo {
	return &CaptainRepo{}
}

// ByID fetches a captain profile joined with their financial account balance.
func (repo *CaptainRepo) ByID(ctx context.Context, id string) (*captain.Captain, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var out captain.Captain
	err = tx.QueryRow(ctx, `
		SELECT c.id, c.rating, COALESCE(fa.balance, 0), c.is_active, c.is_verified, c.last_active_at
		FROM captains c
		LEFT JOIN financial_accounts fa
			ON fa.owner_id = c.id AND fa.role = $2
		WHERE c.id = $1
	`, id, string(ledger.RoleCaptain)).Scan(
		&out.ID, &out.Rating, &out.WalletBalance, &out.IsActive, &out.IsVerified, &out.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, captain.ErrNotFound
		}
		return nil, fmt.Errorf("query captain: %w", err)
	}

	return &out, nil
}

// ActiveTripCount counts the captain's trips in non-terminal assigned states.
func (repo *CaptainRepo) ActiveTripCount(ctx context.Context, captainID string) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM trips
		WHERE driver_id = $1 AND status IN ($2, $3, $4, $5)
	`, captainID,
		string(trip.StatusAccepted),
		string(trip.StatusArrived),
		string(trip.StatusOnRide),
		string(trip.StatusAwaitingPayment),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active trips: %w", err)
	}

	return n, nil
}
