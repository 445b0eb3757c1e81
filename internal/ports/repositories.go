package ports

import (
	"context"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/domain/ledger"
	"ride-dispatch/internal/domain/trip"
)

// UnitOfWork runs a function within a storage transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TripStore persists trips. CAS is the only legal way to advance status: the
// patch applies iff every precondition holds, otherwise trip.ErrTripNotAvailable.
type TripStore interface {
	Create(ctx context.Context, t *trip.Trip) error
	ByID(ctx context.Context, id string) (*trip.Trip, error)
	CAS(ctx context.Context, id string, pre trip.Preconditions, patch trip.Patch) (*trip.Trip, error)
	// ListRequested returns trips in requested status that are not currently
	// dispatching, skipping the given ids.
	ListRequested(ctx context.Context, excluding map[string]struct{}) ([]*trip.Trip, error)
}

// CaptainRepo reads captain profiles for eligibility checks.
type CaptainRepo interface {
	ByID(ctx context.Context, id string) (*captain.Captain, error)
	ActiveTripCount(ctx context.Context, captainID string) (int, error)
}

// Ledger is the double-entry money store. Every completed transfer debits
// one account and credits another by the same amount.
type Ledger interface {
	Balance(ctx context.Context, p ledger.Party) (int64, error)
	// Transfer moves amount from -> to atomically; ledger.ErrInsufficientFunds
	// when the source balance does not cover it.
	Transfer(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error)
	// ForceTransfer moves amount even when it overdraws the source. Used for
	// commission on cash fares collected outside the ledger.
	ForceTransfer(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error)
	// EnqueuePending records a transfer to be settled later.
	EnqueuePending(ctx context.Context, from, to ledger.Party, amount int64, kind string) (*ledger.Transfer, error)
	PendingTransfers(ctx context.Context) ([]*ledger.Transfer, error)
	// SettlePending executes a pending transfer; ledger.ErrInsufficientFunds
	// leaves it pending.
	SettlePending(ctx context.Context, transferID string) error
}

// SettingsRepo persists the dispatch configuration singleton.
type SettingsRepo interface {
	Load(ctx context.Context) (*dispatch.Config, error)
	Save(ctx context.Context, cfg *dispatch.Config) error
}

// CaptainDistance is one radius-query hit, distance in kilometers.
type CaptainDistance struct {
	CaptainID string
	DistKm    float64
}

// LocationIndex is the geospatial store of captain positions.
type LocationIndex interface {
	Upsert(ctx context.Context, captainID string, lat, lon float64) error
	// Radius returns captains within km of the point, sorted ascending by
	// distance, capped at limit.
	Radius(ctx context.Context, lat, lon, km float64, limit int) ([]CaptainDistance, error)
	Position(ctx context.Context, captainID string) (lat, lon float64, ok bool, err error)
	Remove(ctx context.Context, captainID string) error
}
