package contracts

import "time"

// Captain-facing events (server -> client).
const (
	EventNewRide                = "newRide"
	EventHideRide               = "hideRide"
	EventRideAcceptedConfirm    = "rideAcceptedConfirmation"
	EventRideCancelledConfirm   = "rideCancelledConfirmation"
	EventRideStatusUpdate       = "rideStatusUpdate"
	EventPaymentRequired        = "paymentRequired"
	EventRideError              = "rideError"
	EventConnectionEstablished  = "connectionEstablished"
	EventConnectionReplaced     = "connectionReplaced"
	EventConfigUpdate           = "configUpdate"
	EventNextInQueue            = "next-in-queue"
)

// Captain-facing client -> server message types.
const (
	MsgUpdateLocation = "updateLocation"
	MsgAcceptRide     = "acceptRide"
	MsgRejectRide     = "rejectRide"
	MsgCancelRide     = "cancelRide"
	MsgArrived        = "arrived"
	MsgStartRide      = "startRide"
	MsgEndRide        = "endRide"
	MsgSubmitPayment  = "submitPayment"
)

// Passenger-facing events.
const (
	EventRideAccepted         = "rideAccepted"
	EventDriverArrived        = "driverArrived"
	EventRideStarted          = "rideStarted"
	EventRideAwaitingPayment  = "rideAwaitingPayment"
	EventRideCompleted        = "rideCompleted"
	EventRideCanceled         = "rideCanceled"
	EventRideNotApproved      = "rideNotApproved"
	EventDriverLocationUpdate = "driverLocationUpdate"
)

// Passenger client -> server message types.
const (
	MsgRequestRide    = "requestRide"
	MsgCancelRequest  = "cancelRide"
)

// Admin events.
const (
	MsgStartLocationTracking = "start_location_tracking"
	MsgStopLocationTracking  = "stop_location_tracking"
	MsgGetCurrentLocations   = "get_current_locations"
	MsgGetTrackingStats      = "get_tracking_stats"
	MsgFocusCaptain          = "focus_captain"

	EventAdminConnected         = "admin_connected"
	EventCaptainLocationsInit   = "captain_locations_initial"
	EventCaptainLocationUpdate  = "captain_location_update"
	EventTrackingStats          = "tracking_stats"
)

// hideRide reasons.
const (
	HideReasonRideTaken        = "ride_taken"
	HideReasonDispatchTimeout  = "dispatch_timeout"
	HideReasonMaxRadiusReached = "max_radius_reached"
	HideReasonDispatchError    = "dispatch_error"
	HideReasonEmergencyStop    = "emergency_stop"
	HideReasonExpanding        = "expanding"
	HideReasonCancelled        = "cancelled"
)

// PassengerInfo rides along inside ride offers so captains can contact the
// passenger.
type PassengerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

// RideOffer is the newRide payload. Coordinates are [lon, lat] pairs, the
// order mobile map SDKs expect.
type RideOffer struct {
	RideID        string        `json:"rideId"`
	Pickup        [2]float64    `json:"pickup"`
	Dropoff       [2]float64    `json:"dropoff"`
	Fare          int64         `json:"fare"`
	Currency      string        `json:"currency"`
	Distance      float64       `json:"distance"`
	Duration      int           `json:"duration"`
	PaymentMethod string        `json:"paymentMethod"`
	PickupName    string        `json:"pickupName"`
	DropoffName   string        `json:"dropoffName"`
	PassengerInfo PassengerInfo `json:"passengerInfo"`
}

// HideRide tells a captain to drop a previously offered ride from their UI.
type HideRide struct {
	RideID  string `json:"rideId"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// RideAcceptedConfirmation confirms the win back to the accepting captain.
type RideAcceptedConfirmation struct {
	RideOffer
	Status string `json:"status"`
}

// NextInQueue tells a captain a parked offer is about to be delivered.
type NextInQueue struct {
	RideID    string `json:"rideId"`
	Remaining int    `json:"remaining"`
}

// RideStatusUpdate is the generic captain-side status push.
type RideStatusUpdate struct {
	RideID string `json:"rideId"`
	Status string `json:"status"`
}

// PaymentRequired asks the captain to collect and submit payment.
type PaymentRequired struct {
	RideID         string `json:"rideId"`
	ExpectedAmount int64  `json:"expectedAmount"`
	Currency       string `json:"currency"`
}

// RideError is the captain/passenger error push.
type RideError struct {
	RideID string `json:"rideId,omitempty"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ConnectionEstablished is sent once after a successful handshake.
type ConnectionEstablished struct {
	SessionID  string    `json:"sessionId"`
	ServerTime time.Time `json:"serverTime"`
}

// ConnectionReplaced is sent to the old socket when a principal reconnects.
type ConnectionReplaced struct {
	Reason string `json:"reason"`
}

// DriverInfo is attached to the passenger's rideAccepted event.
type DriverInfo struct {
	ID     string  `json:"id"`
	Rating float64 `json:"rating"`
}

// RideAccepted is the passenger's acceptance notification.
type RideAccepted struct {
	RideID     string     `json:"rideId"`
	DriverInfo DriverInfo `json:"driverInfo"`
}

// CaptainLocation is one captain's last reported position.
type CaptainLocation struct {
	CaptainID string    `json:"captainId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"ts"`
}

// LocationUpdateKind values inside captain_location_update pushes.
const (
	LocationUpdateTypeUpdate  = "location_update"
	LocationUpdateTypeRemoved = "location_removed"
)

// AdminLocationUpdate is the tracking fan-out frame. Data is set for
// location_update; CaptainID alone is set for location_removed.
type AdminLocationUpdate struct {
	Type      string           `json:"type"`
	Data      *CaptainLocation `json:"data,omitempty"`
	CaptainID string           `json:"captainId,omitempty"`
}

// AdminUserInfo identifies the staff member on the admin_connected frame.
type AdminUserInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// AdminConnected is the admin handshake payload.
type AdminConnected struct {
	UserInfo AdminUserInfo `json:"userInfo"`
	Stats    TrackingStats `json:"stats"`
}

// CaptainLocationsInit is the captain_locations_initial snapshot envelope.
type CaptainLocationsInit struct {
	Data  []CaptainLocation `json:"data"`
	Count int               `json:"count"`
}

// TrackingStats summarizes the admin tracking hub.
type TrackingStats struct {
	ActiveSessions   int       `json:"activeSessions"`
	TrackedCaptains  int       `json:"trackedCaptains"`
	UpdatesDelivered uint64    `json:"updatesDelivered"`
	StartedAt        time.Time `json:"startedAt"`
}

// TripStatusMessage is published on ExchangeTripTopic at every FSM
// transition, routing key RouteTripStatusPrefix + status.
type TripStatusMessage struct {
	TripID    string    `json:"trip_id"`
	Status    string    `json:"status"`
	DriverID  string    `json:"driver_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Producer  string    `json:"producer"`
}

// LocationMessage is published on ExchangeLocationFanout for every captain
// position ping.
type LocationMessage struct {
	CaptainID string    `json:"captain_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigControlMessage arrives on QueueDispatchControl to change the runtime
// dispatch settings. Fields mirror the ride_settings document.
type ConfigControlMessage struct {
	InitialRadiusKm        float64 `json:"initialRadiusKm,omitempty"`
	MaxRadiusKm            float64 `json:"maxRadiusKm,omitempty"`
	RadiusIncrementKm      float64 `json:"radiusIncrementKm,omitempty"`
	NotificationTimeoutSec int     `json:"notificationTimeoutSec,omitempty"`
	MaxDispatchTimeSec     int     `json:"maxDispatchTimeSec,omitempty"`
	GraceAfterMaxRadiusSec int     `json:"graceAfterMaxRadiusSec,omitempty"`
	MaxQueueLength         int     `json:"maxQueueLength,omitempty"`
	CommissionRate         float64 `json:"commissionRate,omitempty"`
	MainVaultDeductionRate float64 `json:"mainVaultDeductionRate,omitempty"`
}

// TripRequest is what a passenger sends to request a ride.
type TripRequest struct {
	PickupLat   float64 `json:"pickupLat"`
	PickupLon   float64 `json:"pickupLon"`
	PickupName  string  `json:"pickupName"`
	DropoffLat  float64 `json:"dropoffLat"`
	DropoffLon  float64 `json:"dropoffLon"`
	DropoffName string  `json:"dropoffName"`
	Currency    string  `json:"currency"`
}

// PaymentBreakdown reports how a submitted payment settled.
type PaymentBreakdown struct {
	RideID         string `json:"rideId"`
	Expected       int64  `json:"expected"`
	Received       int64  `json:"received"`
	Commission     int64  `json:"commission"`
	Overage        int64  `json:"overage"`
	OveragePending bool   `json:"overagePending"`
	Classification string `json:"classification"` // full | partial
}
