package trip

import "errors"

var (
	// ErrTripNotAvailable is surfaced whenever a CAS update finds the trip in
	// a different state than the caller assumed (status changed, driver
	// already set, or the row is gone).
	ErrTripNotAvailable = errors.New("ride_not_available")

	// ErrNotNotified rejects accept/reject attempts from captains that were
	// never offered the trip.
	ErrNotNotified = errors.New("not_notified")

	ErrInvalidTransition = errors.New("invalid trip status transition")
	ErrPassengerRequired = errors.New("passenger id is required")
	ErrDriverRequired    = errors.New("driver id is required")
	ErrFareInvalid       = errors.New("fare amount must be positive")
)
