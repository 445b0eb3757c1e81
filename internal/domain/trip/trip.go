package trip

import (
	"strings"
	"time"

	"ride-dispatch/internal/domain/geo"
)

// Fare is the quoted price of a trip in integer minor units.
type Fare struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Trip is the domain entity corresponding to the `trips` table.
type Trip struct {
	// Identity & audit
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Actors
	PassengerID string
	DriverID    *string // nil until acceptance

	// Route
	Pickup     geo.Point
	Dropoff    geo.Point
	DistanceKm float64
	DurationSec int

	// Pricing
	Fare Fare

	// Core state
	Status      Status
	Dispatching bool // true iff a dispatcher currently owns this trip

	// Lifecycle timestamps
	AcceptedAt      *time.Time
	ArrivedAt       *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DispatchEndedAt *time.Time

	// Payment & cancellation bookkeeping
	CancellationReason       *string
	PaymentReceived          *int64
	MainVaultDeducted        bool
	MainVaultDeductionAmount int64
}

// NewTrip creates a trip in requested state with validated inputs.
func NewTrip(id, passengerID string, pickup, dropoff geo.Point, fare Fare, distanceKm float64, durationSec int) (*Trip, error) {
	if passengerID = strings.TrimSpace(passengerID); passengerID == "" {
		return nil, ErrPassengerRequired
	}
	if !pickup.Valid() || !dropoff.Valid() {
		return nil, geo.ErrInvalidCoordinates
	}
	if fare.Amount <= 0 {
		return nil, ErrFareInvalid
	}

	now := time.Now().UTC()
	return &Trip{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		PassengerID: passengerID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		DistanceKm:  distanceKm,
		DurationSec: durationSec,
		Fare:        fare,
		Status:      StatusRequested,
	}, nil
}

// AssignedTo reports whether the trip currently belongs to the given driver.
func (t *Trip) AssignedTo(driverID string) bool {
	return t.DriverID != nil && *t.DriverID == driverID
}

// Age returns how long ago the trip was requested.
func (t *Trip) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
