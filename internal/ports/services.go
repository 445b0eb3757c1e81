package ports

import (
	"context"

	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
)

// Notifier delivers typed outbound events to live connections. Deliver-once,
// unreliable: false means the connection is dead or absent and the event was
// dropped.
type Notifier interface {
	NotifyCaptain(id, event string, payload any) bool
	NotifyPassenger(id, event string, payload any) bool
	NotifyAdmin(id, event string, payload any) bool
	// BroadcastCaptains pushes one event to every connected captain and
	// returns how many deliveries succeeded.
	BroadcastCaptains(event string, payload any) int
}

// Presence answers liveness questions about connections.
type Presence interface {
	CaptainOnline(id string) bool
	PassengerOnline(id string) bool
}

// SendOutcome classifies what the queue manager did with an offer.
type SendOutcome int

const (
	SendSent SendOutcome = iota
	SendQueued
	SendDropped
)

// SendResult reports the outcome of offering a ride to a captain.
type SendResult struct {
	Outcome  SendOutcome
	Position int // queue position when Outcome == SendQueued
}

// QueuePort is the dispatcher's view of the per-captain offer queue.
type QueuePort interface {
	HasPending(captainID string) bool
	Send(ctx context.Context, captainID string, offer contracts.RideOffer) SendResult
}

// EventPublisher pushes domain events onto the message bus.
type EventPublisher interface {
	PublishTripStatus(ctx context.Context, msg contracts.TripStatusMessage) error
	PublishLocation(ctx context.Context, msg contracts.LocationMessage) error
}

// PaymentInterlock gates acceptance and settles completion. Both calls join
// the caller's transaction so a failed CAS rolls the money back too.
type PaymentInterlock interface {
	// DebitOnAcceptance moves the vault deduction captain -> house; the
	// returned amount is recorded on the trip. ledger.ErrInsufficientFunds
	// refuses acceptance.
	DebitOnAcceptance(ctx context.Context, captainID string, fareAmount int64) (int64, error)
	// SettleOnCompletion runs commission and overage transfers for a
	// submitted payment.
	SettleOnCompletion(ctx context.Context, t *trip.Trip, received int64) (*contracts.PaymentBreakdown, error)
}

// LocationSink receives captain position updates (admin tracking).
type LocationSink interface {
	Push(update contracts.CaptainLocation)
	Drop(captainID string)
}

// CaptainAPI is what the transport layer invokes for captain messages.
type CaptainAPI interface {
	UpdateLocation(ctx context.Context, captainID string, lat, lon float64) error
	AcceptRide(ctx context.Context, captainID, tripID string) error
	RejectRide(ctx context.Context, captainID, tripID, reason string) error
	CancelRide(ctx context.Context, captainID, tripID string) error
	MarkArrived(ctx context.Context, captainID, tripID string) error
	StartRide(ctx context.Context, captainID, tripID string) error
	EndRide(ctx context.Context, captainID, tripID string) error
	SubmitPayment(ctx context.Context, captainID, tripID string, received int64, notes string) error
	CaptainDisconnected(captainID string)
}

// PassengerAPI is what the transport layer invokes for passenger messages.
type PassengerAPI interface {
	RequestTrip(ctx context.Context, passengerID string, req contracts.TripRequest) (*trip.Trip, error)
	CancelTrip(ctx context.Context, passengerID, tripID, reason string) error
}

// TrackingHub is the admin live-tracking surface.
type TrackingHub interface {
	Subscribe(adminID, role string, permissions []string) (sessionID string, err error)
	Unsubscribe(adminID string)
	CurrentLocations() []contracts.CaptainLocation
	Stats() contracts.TrackingStats
	FocusCaptain(adminID, captainID string) (contracts.CaptainLocation, bool)
}
