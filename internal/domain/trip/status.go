package trip

// Status is the lifecycle state of a trip. The literal values double as the
// wire and storage representation.
type Status string

const (
	StatusRequested       Status = "requested"
	StatusAccepted        Status = "accepted"
	StatusArrived         Status = "arrived"
	StatusOnRide          Status = "onRide"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusNotApprove      Status = "notApprove"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusArrived, StatusOnRide,
		StatusAwaitingPayment, StatusCompleted, StatusNotApprove,
		StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNotApprove, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Assigned reports whether a trip in this status must have a driver.
func (s Status) Assigned() bool {
	switch s {
	case StatusAccepted, StatusArrived, StatusOnRide, StatusAwaitingPayment, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether the trip occupies its driver (counts toward
// max-active-rides).
func (s Status) Active() bool {
	switch s {
	case StatusAccepted, StatusArrived, StatusOnRide:
		return true
	}
	return false
}
