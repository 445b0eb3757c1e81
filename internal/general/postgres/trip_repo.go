package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// TripRepo persists trips using pgx and plain SQL.
type TripRepo struct{}

// NewTripRepo constructs a new TripRepo.
func NewTripRepo() ports.TripStore {
	return &TripRepo{}
}

// tripColumns is the canonical column list used by every SELECT/RETURNING.
const tripColumns = `
	id, created_at, updated_at, passenger_id, driver_id,
	pickup_lat, pickup_lon, pickup_name,
	dropoff_lat, dropoff_lon, dropoff_name,
	distance_km, duration_sec, fare_amount, fare_currency,
	status, dispatching,
	accepted_at, arrived_at, started_at, ended_at, dispatch_ended_at,
	cancellation_reason, payment_received, main_vault_deducted, main_vault_deduction_amount`

// Create inserts a new trip row in requested state.
func (repo *TripRepo) Create(ctx context.Context, t *trip.Trip) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO trips (
			id, passenger_id,
			pickup_lat, pickup_lon, pickup_name,
			dropoff_lat, dropoff_lon, dropoff_name,
			distance_km, duration_sec, fare_amount, fare_currency,
			status, dispatching
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`,
		t.ID,
		t.PassengerID,
		t.Pickup.Lat, t.Pickup.Lon, t.Pickup.Name,
		t.Dropoff.Lat, t.Dropoff.Lon, t.Dropoff.Name,
		t.DistanceKm, t.DurationSec, t.Fare.Amount, t.Fare.Currency,
		string(t.Status), t.Dispatching,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}

	return nil
}

// ByID fetches a trip by primary key.
func (repo *TripRepo) ByID(ctx context.Context, id string) (*trip.Trip, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	out, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trip.ErrTripNotAvailable
		}
		return nil, err
	}

	return out, nil
}

// CAS applies the patch iff every precondition holds on the stored row, in a
// single UPDATE. Zero affected rows means the row moved on since the caller
// read it, which surfaces as trip.ErrTripNotAvailable.
func (repo *TripRepo) CAS(ctx context.Context, id string, pre trip.Preconditions, patch trip.Patch) (*trip.Trip, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var (
		sets  []string
		where []string
		args  []any
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// SET clauses from the patch
	if patch.Status != nil {
		sets = append(sets, "status = "+arg(string(*patch.Status)))
	}
	if patch.ClearDriver {
		sets = append(sets, "driver_id = NULL")
	} else if patch.DriverID != nil {
		sets = append(sets, "driver_id = "+arg(*patch.DriverID))
	}
	if patch.Dispatching != nil {
		sets = append(sets, "dispatching = "+arg(*patch.Dispatching))
	}
	if patch.AcceptedAt != nil {
		sets = append(sets, "accepted_at = "+arg(*patch.AcceptedAt))
	}
	if patch.ArrivedAt != nil {
		sets = append(sets, "arrived_at = "+arg(*patch.ArrivedAt))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = "+arg(*patch.StartedAt))
	}
	if patch.EndedAt != nil {
		sets = append(sets, "ended_at = "+arg(*patch.EndedAt))
	}
	if patch.DispatchEndedAt != nil {
		sets = append(sets, "dispatch_ended_at = "+arg(*patch.DispatchEndedAt))
	}
	if patch.CancellationReason != nil {
		sets = append(sets, "cancellation_reason = "+arg(*patch.CancellationReason))
	}
	if patch.PaymentReceived != nil {
		sets = append(sets, "payment_received = "+arg(*patch.PaymentReceived))
	}
	if patch.MainVaultDeducted != nil {
		sets = append(sets, "main_vault_deducted = "+arg(*patch.MainVaultDeducted))
	}
	if patch.MainVaultDeductionAmount != nil {
		sets = append(sets, "main_vault_deduction_amount = "+arg(*patch.MainVaultDeductionAmount))
	}
	if len(sets) == 0 {
		return nil, errors.New("cas: empty patch")
	}
	sets = append(sets, "updated_at = now()")

	// WHERE clauses from the preconditions
	where = append(where, "id = "+arg(id))
	if pre.Status != nil {
		where = append(where, "status = "+arg(string(*pre.Status)))
	}
	if pre.DriverNull {
		where = append(where, "driver_id IS NULL")
	} else if pre.DriverID != nil {
		where = append(where, "driver_id = "+arg(*pre.DriverID))
	}
	if pre.Dispatching != nil {
		where = append(where, "dispatching = "+arg(*pre.Dispatching))
	}

	query := `UPDATE trips SET ` + strings.Join(sets, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + tripColumns

	row := tx.QueryRow(ctx, query, args...)
	out, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trip.ErrTripNotAvailable
		}
		return nil, fmt.Errorf("cas update: %w", err)
	}

	return out, nil
}

// ListRequested returns trips awaiting dispatch (requested and not currently
// owned by a dispatcher), oldest first, skipping the given ids.
func (repo *TripRepo) ListRequested(ctx context.Context, excluding map[string]struct{}) ([]*trip.Trip, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE status = $1 AND dispatching = false
		ORDER BY created_at ASC
	`, string(trip.StatusRequested))
	if err != nil {
		return nil, fmt.Errorf("query requested trips: %w", err)
	}
	defer rows.Close()

	var out []*trip.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		if _, skip := excluding[t.ID]; skip {
			continue
		}
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// scanTrip maps one row (in tripColumns order) onto the domain entity.
func scanTrip(row pgx.Row) (*trip.Trip, error) {
	var (
		t      trip.Trip
		status string
	)

	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.PassengerID, &t.DriverID,
		&t.Pickup.Lat, &t.Pickup.Lon, &t.Pickup.Name,
		&t.Dropoff.Lat, &t.Dropoff.Lon, &t.Dropoff.Name,
		&t.DistanceKm, &t.DurationSec, &t.Fare.Amount, &t.Fare.Currency,
		&status, &t.Dispatching,
		&t.AcceptedAt, &t.ArrivedAt, &t.StartedAt, &t.EndedAt, &t.DispatchEndedAt,
		&t.CancellationReason, &t.PaymentReceived, &t.MainVaultDeducted, &t.MainVaultDeductionAmount,
	)
	if err != nil {
		return nil, err
	}

	t.Status = trip.Status(status)
	return &t, nil
}
