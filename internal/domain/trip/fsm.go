package trip

import (
	"strings"
	"time"
)

// Preconditions is the guard of a compare-and-set update. Every field that is
// set must hold on the stored row for the patch to apply.
type Preconditions struct {
	Status      *Status
	DriverID    *string // row driver_id must equal this value
	DriverNull  bool    // row driver_id must be NULL
	Dispatching *bool
}

// Patch is the set of columns a CAS update writes. Nil fields are left
// untouched.
type Patch struct {
	Status      *Status
	DriverID    *string
	ClearDriver bool
	Dispatching *bool

	AcceptedAt      *time.Time
	ArrivedAt       *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	DispatchEndedAt *time.Time

	CancellationReason       *string
	PaymentReceived          *int64
	MainVaultDeducted        *bool
	MainVaultDeductionAmount *int64
}

// Allowed reports whether from -> to is a legal status transition.
func Allowed(from, to Status) bool {
	switch from {
	case StatusRequested:
		return to == StatusAccepted || to == StatusNotApprove || to == StatusFailed || to == StatusCancelled
	case StatusAccepted:
		return to == StatusArrived || to == StatusRequested || to == StatusCancelled
	case StatusArrived:
		return to == StatusOnRide || to == StatusRequested || to == StatusCancelled
	case StatusOnRide:
		return to == StatusAwaitingPayment || to == StatusCancelled
	case StatusAwaitingPayment:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// helpers for pointer literals
func statusPtr(s Status) *Status    { return &s }
func boolPtr(b bool) *bool          { return &b }
func timePtr(t time.Time) *time.Time { return &t }

// Accept guards requested -> accepted for the given driver. The vault
// deduction amount recorded by the payment interlock travels in the same
// patch so acceptance and its debit are stored atomically.
func Accept(driverID string, vaultDeduction int64, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{
		Status:     statusPtr(StatusRequested),
		DriverNull: true,
	}
	patch := Patch{
		Status:                   statusPtr(StatusAccepted),
		DriverID:                 &driverID,
		Dispatching:              boolPtr(false),
		AcceptedAt:               timePtr(now),
		MainVaultDeducted:        boolPtr(vaultDeduction > 0),
		MainVaultDeductionAmount: &vaultDeduction,
	}
	return pre, patch
}

// Arrive guards accepted -> arrived by the owning driver.
func Arrive(driverID string, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{
		Status:   statusPtr(StatusAccepted),
		DriverID: &driverID,
	}
	patch := Patch{
		Status:    statusPtr(StatusArrived),
		ArrivedAt: timePtr(now),
	}
	return pre, patch
}

// Start guards arrived -> onRide by the owning driver.
func Start(driverID string, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{
		Status:   statusPtr(StatusArrived),
		DriverID: &driverID,
	}
	patch := Patch{
		Status:    statusPtr(StatusOnRide),
		StartedAt: timePtr(now),
	}
	return pre, patch
}

// End guards onRide -> awaiting_payment by the owning driver.
func End(driverID string, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{
		Status:   statusPtr(StatusOnRide),
		DriverID: &driverID,
	}
	patch := Patch{
		Status:  statusPtr(StatusAwaitingPayment),
		EndedAt: timePtr(now),
	}
	return pre, patch
}

// CompletePayment guards awaiting_payment -> completed and records the amount
// the driver collected.
func CompletePayment(driverID string, received int64) (Preconditions, Patch) {
	pre := Preconditions{
		Status:   statusPtr(StatusAwaitingPayment),
		DriverID: &driverID,
	}
	patch := Patch{
		Status:          statusPtr(StatusCompleted),
		PaymentReceived: &received,
	}
	return pre, patch
}

// DriverCancel guards {accepted,arrived} -> requested: the driver backs out,
// the trip returns to the dispatch pool with the driver cleared.
func DriverCancel(driverID string, from Status, reason string) (Preconditions, Patch, error) {
	if from != StatusAccepted && from != StatusArrived {
		return Preconditions{}, Patch{}, ErrInvalidTransition
	}
	pre := Preconditions{
		Status:   statusPtr(from),
		DriverID: &driverID,
	}
	reason = strings.TrimSpace(reason)
	patch := Patch{
		Status:             statusPtr(StatusRequested),
		ClearDriver:        true,
		Dispatching:        boolPtr(true),
		CancellationReason: &reason,
	}
	return pre, patch, nil
}

// PassengerCancel guards any non-terminal status -> cancelled. The driver is
// cleared so a cancelled row never carries an assignment.
func PassengerCancel(from Status, reason string) (Preconditions, Patch, error) {
	if from.Terminal() {
		return Preconditions{}, Patch{}, ErrInvalidTransition
	}
	pre := Preconditions{Status: statusPtr(from)}
	reason = strings.TrimSpace(reason)
	patch := Patch{
		Status:             statusPtr(StatusCancelled),
		ClearDriver:        true,
		Dispatching:        boolPtr(false),
		CancellationReason: &reason,
	}
	return pre, patch, nil
}

// NotApprove guards requested -> notApprove when dispatch gives up.
func NotApprove(reason string, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{Status: statusPtr(StatusRequested)}
	reason = strings.TrimSpace(reason)
	patch := Patch{
		Status:             statusPtr(StatusNotApprove),
		Dispatching:        boolPtr(false),
		DispatchEndedAt:    timePtr(now),
		CancellationReason: &reason,
	}
	return pre, patch
}

// Fail guards requested -> failed on an unrecoverable dispatch error.
func Fail(reason string, now time.Time) (Preconditions, Patch) {
	pre := Preconditions{Status: statusPtr(StatusRequested)}
	reason = strings.TrimSpace(reason)
	patch := Patch{
		Status:             statusPtr(StatusFailed),
		Dispatching:        boolPtr(false),
		DispatchEndedAt:    timePtr(now),
		CancellationReason: &reason,
	}
	return pre, patch
}

// ClaimDispatch guards the supervisor's exclusive claim: requested and not
// yet dispatching -> dispatching.
func ClaimDispatch() (Preconditions, Patch) {
	pre := Preconditions{
		Status:      statusPtr(StatusRequested),
		Dispatching: boolPtr(false),
	}
	patch := Patch{Dispatching: boolPtr(true)}
	return pre, patch
}

// ReleaseDispatch clears the dispatching flag without touching status; used
// when a dispatcher exits while the trip stays requested.
func ReleaseDispatch() (Preconditions, Patch) {
	pre := Preconditions{
		Status:      statusPtr(StatusRequested),
		Dispatching: boolPtr(true),
	}
	patch := Patch{Dispatching: boolPtr(false)}
	return pre, patch
}
