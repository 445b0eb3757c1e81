package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"

	"github.com/google/uuid"
)

// assignment tracks which passenger rides with which captain, so location
// pings can flow to the right passenger without a store read per ping.
type assignment struct {
	TripID      string
	PassengerID string
}

// --- ports.CaptainAPI ---

// UpdateLocation stores a captain position and fans it out to the admin hub,
// the message bus, and the passenger of the captain's active trip.
func (s *Service) UpdateLocation(ctx context.Context, captainID string, lat, lon float64) error {
	if !geo.ValidCoordinates(lat, lon) {
		return geo.ErrInvalidCoordinates
	}

	if err := s.locations.Upsert(ctx, captainID, lat, lon); err != nil {
		return err
	}

	now := time.Now().UTC()
	s.sink.Push(contracts.CaptainLocation{
		CaptainID: captainID,
		Lat:       lat,
		Lon:       lon,
		UpdatedAt: now,
	})

	if err := s.publisher.PublishLocation(ctx, contracts.LocationMessage{
		CaptainID: captainID,
		Lat:       lat,
		Lon:       lon,
		Timestamp: now,
	}); err != nil {
		s.logger.Debug(ctx, "location_publish_failed", "Location fanout publish failed", map[string]any{
			"captain_id": captainID,
		})
	}

	if v, ok := s.assignments.Load(captainID); ok {
		a := v.(assignment)
		_ = s.notifier.NotifyPassenger(a.PassengerID, contracts.EventDriverLocationUpdate, map[string]any{
			"rideId": a.TripID,
			"lat":    lat,
			"lon":    lon,
			"ts":     now,
		})
	}

	return nil
}

// AcceptRide processes a captain's acceptance: eligibility, vault debit, and
// the status CAS all commit atomically, so a lost race costs nothing.
func (s *Service) AcceptRide(ctx context.Context, captainID, tripID string) error {
	if !s.tracker.Notified(tripID, captainID) {
		return trip.ErrNotNotified
	}

	ok, reason, err := s.eligibleCaptain(ctx, captainID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", captain.ErrNotEligible, reason)
	}

	var (
		accepted *trip.Trip
		rating   float64
	)
	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.trips.ByID(ctx, tripID)
		if err != nil {
			return err
		}
		if t.Status != trip.StatusRequested {
			return trip.ErrTripNotAvailable
		}

		deduction, err := s.payments.DebitOnAcceptance(ctx, captainID, t.Fare.Amount)
		if err != nil {
			return err
		}

		// the debit locked the captain's ledger row, so concurrent accepts by
		// the same captain serialize here; recheck the active-ride cap under
		// that lock or two accepts could both pass the pre-tx eligibility read
		active, err := s.captains.ActiveTripCount(ctx, captainID)
		if err != nil {
			return err
		}
		if active >= s.Config().MaxActiveRides {
			return fmt.Errorf("%w: %s", captain.ErrNotEligible, captain.ReasonTooManyRides)
		}

		pre, patch := trip.Accept(captainID, deduction, time.Now().UTC())
		accepted, err = s.trips.CAS(ctx, tripID, pre, patch)
		if err != nil {
			return err
		}

		c, err := s.captains.ByID(ctx, captainID)
		if err != nil {
			return err
		}
		rating = c.Rating
		return nil
	})
	if err != nil {
		// acceptance refused: free the captain's pending slot so the queue
		// moves on
		s.queues.OnReject(captainID, tripID)
		return err
	}

	s.metrics.TripTransitions.WithLabelValues(string(trip.StatusAccepted)).Inc()
	s.queues.OnAccept(captainID, tripID)
	s.assignments.Store(captainID, assignment{TripID: tripID, PassengerID: accepted.PassengerID})
	s.signalTrip(tripID, signalAccepted)

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventRideAcceptedConfirm, contracts.RideAcceptedConfirmation{
		RideOffer: buildOffer(accepted),
		Status:    string(trip.StatusAccepted),
	})
	_ = s.notifier.NotifyPassenger(accepted.PassengerID, contracts.EventRideAccepted, contracts.RideAccepted{
		RideID:     tripID,
		DriverInfo: contracts.DriverInfo{ID: captainID, Rating: rating},
	})
	s.publishStatus(ctx, tripID, string(trip.StatusAccepted), captainID, "")

	s.logger.Info(s.logger.WithTripID(ctx, tripID), "ride_accepted", "Captain accepted the ride", map[string]any{
		"captain_id":      captainID,
		"vault_deduction": accepted.MainVaultDeductionAmount,
	})
	return nil
}

// RejectRide clears the captain's pending offer; a duplicate reject of a ride
// no longer pending is refused so the queue cannot advance twice.
func (s *Service) RejectRide(ctx context.Context, captainID, tripID, reason string) error {
	if !s.queues.OnReject(captainID, tripID) {
		return trip.ErrNotNotified
	}
	s.logger.Info(ctx, "ride_rejected", "Captain rejected the ride", map[string]any{
		"captain_id": captainID,
		"trip_id":    tripID,
		"reason":     reason,
	})
	return nil
}

// CancelRide lets the owning captain back out of an accepted or arrived trip.
// The trip returns to the dispatch pool and a fresh dispatcher picks it up.
func (s *Service) CancelRide(ctx context.Context, captainID, tripID string) error {
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if !t.AssignedTo(captainID) {
		return trip.ErrTripNotAvailable
	}

	pre, patch, err := trip.DriverCancel(captainID, t.Status, "captain_canceled")
	if err != nil {
		return err
	}
	reset, err := s.cas(ctx, tripID, pre, patch)
	if err != nil {
		return err
	}

	s.assignments.Delete(captainID)

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventRideCancelledConfirm, contracts.RideStatusUpdate{
		RideID: tripID,
		Status: string(trip.StatusRequested),
	})
	_ = s.notifier.NotifyPassenger(reset.PassengerID, contracts.EventRideCanceled, map[string]any{
		"rideId": tripID,
		"reason": "captain_canceled",
	})
	s.publishStatus(ctx, tripID, string(trip.StatusRequested), "", "captain_canceled")

	s.logger.Info(s.logger.WithTripID(ctx, tripID), "ride_driver_cancelled", "Captain cancelled, trip back in dispatch pool", map[string]any{
		"captain_id": captainID,
	})

	// redispatch immediately instead of waiting a supervisor tick
	s.StartDispatch(ctx, tripID)
	return nil
}

// MarkArrived moves accepted -> arrived.
func (s *Service) MarkArrived(ctx context.Context, captainID, tripID string) error {
	pre, patch := trip.Arrive(captainID, time.Now().UTC())
	t, err := s.cas(ctx, tripID, pre, patch)
	if err != nil {
		return err
	}

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventRideStatusUpdate, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusArrived),
	})
	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventDriverArrived, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusArrived),
	})
	s.publishStatus(ctx, tripID, string(trip.StatusArrived), captainID, "")
	return nil
}

// StartRide moves arrived -> onRide.
func (s *Service) StartRide(ctx context.Context, captainID, tripID string) error {
	pre, patch := trip.Start(captainID, time.Now().UTC())
	t, err := s.cas(ctx, tripID, pre, patch)
	if err != nil {
		return err
	}

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventRideStatusUpdate, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusOnRide),
	})
	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventRideStarted, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusOnRide),
	})
	s.publishStatus(ctx, tripID, string(trip.StatusOnRide), captainID, "")
	return nil
}

// EndRide moves onRide -> awaiting_payment and asks the captain to collect.
func (s *Service) EndRide(ctx context.Context, captainID, tripID string) error {
	pre, patch := trip.End(captainID, time.Now().UTC())
	t, err := s.cas(ctx, tripID, pre, patch)
	if err != nil {
		return err
	}

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventPaymentRequired, contracts.PaymentRequired{
		RideID:         tripID,
		ExpectedAmount: t.Fare.Amount,
		Currency:       t.Fare.Currency,
	})
	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventRideAwaitingPayment, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusAwaitingPayment),
	})
	s.publishStatus(ctx, tripID, string(trip.StatusAwaitingPayment), captainID, "")
	return nil
}

// SubmitPayment settles commission and overage, then completes the trip. The
// transfers and the CAS share one transaction so a double submit cannot
// settle twice.
func (s *Service) SubmitPayment(ctx context.Context, captainID, tripID string, received int64, notes string) error {
	if received < 0 {
		return fmt.Errorf("received amount must be >= 0, got %d", received)
	}

	var (
		completed *trip.Trip
		breakdown *contracts.PaymentBreakdown
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.trips.ByID(ctx, tripID)
		if err != nil {
			return err
		}
		if !t.AssignedTo(captainID) || t.Status != trip.StatusAwaitingPayment {
			return trip.ErrTripNotAvailable
		}

		breakdown, err = s.payments.SettleOnCompletion(ctx, t, received)
		if err != nil {
			return err
		}

		pre, patch := trip.CompletePayment(captainID, received)
		completed, err = s.trips.CAS(ctx, tripID, pre, patch)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.TripTransitions.WithLabelValues(string(trip.StatusCompleted)).Inc()
	s.assignments.Delete(captainID)

	_ = s.notifier.NotifyCaptain(captainID, contracts.EventRideStatusUpdate, breakdown)
	_ = s.notifier.NotifyPassenger(completed.PassengerID, contracts.EventRideCompleted, contracts.RideStatusUpdate{
		RideID: tripID, Status: string(trip.StatusCompleted),
	})
	s.publishStatus(ctx, tripID, string(trip.StatusCompleted), captainID, breakdown.Classification)

	s.logger.Info(s.logger.WithTripID(ctx, tripID), "ride_completed", "Payment submitted and trip completed", map[string]any{
		"captain_id":      captainID,
		"received":        received,
		"commission":      breakdown.Commission,
		"overage":         breakdown.Overage,
		"overage_pending": breakdown.OveragePending,
		"notes_present":   notes != "",
	})
	return nil
}

// CaptainDisconnected clears the captain's queue state in one sweep.
func (s *Service) CaptainDisconnected(captainID string) {
	s.queues.OnDisconnect(captainID)
}

// --- ports.PassengerAPI ---

// RequestTrip quotes and persists a new trip, then starts dispatch at once.
func (s *Service) RequestTrip(ctx context.Context, passengerID string, req contracts.TripRequest) (*trip.Trip, error) {
	pickup, err := geo.NewPoint(req.PickupLat, req.PickupLon, req.PickupName)
	if err != nil {
		return nil, err
	}
	dropoff, err := geo.NewPoint(req.DropoffLat, req.DropoffLon, req.DropoffName)
	if err != nil {
		return nil, err
	}

	cfg := s.Config()
	distance := pickup.DistanceKM(dropoff)
	duration := geo.EstimateDurationSec(distance)

	currency := req.Currency
	if currency == "" {
		currency = "IQD"
	}
	fare := trip.Fare{
		Amount:   cfg.ClampFare(cfg.BaseFare + int64(distance*float64(cfg.PricePerKm))),
		Currency: currency,
	}

	t, err := trip.NewTrip(uuid.NewString(), passengerID, pickup, dropoff, fare, distance, duration)
	if err != nil {
		return nil, err
	}

	err = s.uow.WithinTx(ctx, func(ctx context.Context) error {
		return s.trips.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	s.publishStatus(ctx, t.ID, string(trip.StatusRequested), "", "")
	s.logger.Info(s.logger.WithTripID(ctx, t.ID), "ride_requested", "New trip created", map[string]any{
		"passenger_id": passengerID,
		"fare":         fare.Amount,
		"distance_km":  distance,
	})

	s.StartDispatch(ctx, t.ID)
	return t, nil
}

// CancelTrip is the passenger cancel: legal from any non-terminal status.
func (s *Service) CancelTrip(ctx context.Context, passengerID, tripID, reason string) error {
	if reason == "" {
		reason = "passenger_canceled"
	}

	// the status may move between read and CAS; retry once on mismatch
	for attempt := 0; attempt < 2; attempt++ {
		t, err := s.loadTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if t.PassengerID != passengerID {
			return trip.ErrTripNotAvailable
		}

		pre, patch, err := trip.PassengerCancel(t.Status, reason)
		if err != nil {
			return err
		}
		if _, err := s.cas(ctx, tripID, pre, patch); err != nil {
			if errors.Is(err, trip.ErrTripNotAvailable) {
				continue
			}
			return err
		}

		s.CancelDispatch(tripID)
		// the CAS clears driver_id, so the assignment read above is the one
		// that knows who to notify
		if t.DriverID != nil {
			s.assignments.Delete(*t.DriverID)
			_ = s.notifier.NotifyCaptain(*t.DriverID, contracts.EventHideRide, contracts.HideRide{
				RideID: tripID,
				Reason: contracts.HideReasonCancelled,
			})
		}
		_ = s.notifier.NotifyPassenger(passengerID, contracts.EventRideCanceled, map[string]any{
			"rideId": tripID,
			"reason": reason,
		})
		s.publishStatus(ctx, tripID, string(trip.StatusCancelled), "", reason)

		s.logger.Info(s.logger.WithTripID(ctx, tripID), "ride_cancelled", "Passenger cancelled the trip", map[string]any{
			"passenger_id": passengerID,
			"reason":       reason,
		})
		return nil
	}

	return trip.ErrTripNotAvailable
}
