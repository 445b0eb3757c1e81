package service

import (
	"context"
	"testing"
	"time"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"

	"github.com/stretchr/testify/require"
)

const (
	pickupLat = 33.3152
	pickupLon = 44.3661
)

func waitStatus(t *testing.T, f *fixture, tripID string, want trip.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		tr, err := f.trips.ByID(context.Background(), tripID)
		return err == nil && tr.Status == want
	}, 3*time.Second, 10*time.Millisecond, "trip never reached %s", want)
}

func TestDispatchImmediateAccept(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon) // ~0.4 km out
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))

	// the captain gets the offer
	d, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.Equal(t, tr.ID, d.Payload.(contracts.RideOffer).RideID)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))

	// trip is accepted with the vault deduction recorded atomically
	stored, err := f.trips.ByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, trip.StatusAccepted, stored.Status)
	require.Equal(t, "cap-1", *stored.DriverID)
	require.False(t, stored.Dispatching)
	require.True(t, stored.MainVaultDeducted)
	require.Equal(t, int64(600), stored.MainVaultDeductionAmount) // 3000 / 5

	// the winning captain's confirmation carries the ride plus its status
	d, ok = f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventRideAcceptedConfirm
	})
	require.True(t, ok)
	confirm := d.Payload.(contracts.RideAcceptedConfirmation)
	require.Equal(t, tr.ID, confirm.RideID)
	require.Equal(t, string(trip.StatusAccepted), confirm.Status)

	// passenger learns who accepted
	d, ok = f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "pass-1" && d.Event == contracts.EventRideAccepted
	})
	require.True(t, ok)
	require.Equal(t, "cap-1", d.Payload.(contracts.RideAccepted).DriverInfo.ID)

	// location pings now stream to the passenger of the active trip
	require.NoError(t, f.svc.UpdateLocation(context.Background(), "cap-1", pickupLat+0.005, pickupLon))
	_, ok = f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "pass-1" && d.Event == contracts.EventDriverLocationUpdate
	})
	require.True(t, ok)

	f.svc.Wait()
}

func TestDispatchExpandsRadius(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-far", pickupLat+0.0225, pickupLon) // ~2.5 km, outside rings 1 and 2
	tr := f.addTrip("trip-1", "pass-1", 3000)

	start := time.Now()
	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))

	// empty rings widen immediately, so the offer arrives well before two
	// full notification timeouts would have elapsed
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-far" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-far", tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusAccepted)
	f.svc.Wait()
}

func TestDispatchNoCaptainsEndsNotApprove(t *testing.T) {
	f := newFixture(testConfig())
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusNotApprove)

	stored, err := f.trips.ByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.False(t, stored.Dispatching)
	require.Equal(t, "no captain accepted", *stored.CancellationReason)

	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "pass-1" && d.Event == contracts.EventRideNotApproved
	})
	require.True(t, ok)

	msg, ok := f.publisher.lastStatus()
	require.True(t, ok)
	require.Equal(t, string(trip.StatusNotApprove), msg.Status)

	f.svc.Wait()
}

func TestStartDispatchSingleFlight(t *testing.T) {
	cfg := testConfig()
	cfg.GraceAfterMaxRadius = time.Second // keep the dispatcher alive a moment
	f := newFixture(cfg)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	require.False(t, f.svc.StartDispatch(context.Background(), tr.ID))

	f.svc.CancelDispatch(tr.ID)
	f.svc.Wait()
}

func TestIneligibleCaptainNotOffered(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-busy", pickupLat+0.004, pickupLon)
	f.captains.mu.Lock()
	f.captains.active["cap-busy"] = 1 // at the max-active-rides cap
	f.captains.mu.Unlock()
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusNotApprove)

	require.Zero(t, f.notifier.countEvents(func(d delivered) bool {
		return d.Event == contracts.EventNewRide
	}))
	f.svc.Wait()
}

func TestAcceptWithoutOfferRefused(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	f.addCaptain("cap-sniper", pickupLat+0.2, pickupLon) // outside every ring
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)

	// never notified, cannot accept
	require.ErrorIs(t, f.svc.AcceptRide(context.Background(), "cap-sniper", tr.ID), trip.ErrNotNotified)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))
	f.svc.Wait()
}

func TestLosingCaptainsGetHideRide(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	f.addCaptain("cap-2", pickupLat+0.005, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))

	// cap-1 is closer so it holds the pending offer; cap-2 has it queued.
	// Either way both are marked notified once the offer is routed.
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))
	f.svc.Wait()

	// the loser is told the ride is gone; the winner is not
	require.Equal(t, 1, f.notifier.countEvents(func(d delivered) bool {
		return d.ID == "cap-2" && d.Event == contracts.EventHideRide &&
			d.Payload.(contracts.HideRide).Reason == contracts.HideReasonRideTaken
	}))
	require.Zero(t, f.notifier.countEvents(func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventHideRide
	}))
}

func TestPassengerCancelStopsDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.NotificationTimeout = time.Second
	f := newFixture(cfg)
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)

	require.NoError(t, f.svc.CancelTrip(context.Background(), "pass-1", tr.ID, ""))
	waitStatus(t, f, tr.ID, trip.StatusCancelled)
	f.svc.Wait()

	// the notified captain is told to drop the offer
	require.GreaterOrEqual(t, f.notifier.countEvents(func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventHideRide
	}), 1)

	// a foreign passenger cannot cancel someone else's trip
	tr2 := f.addTrip("trip-2", "pass-1", 3000)
	require.ErrorIs(t, f.svc.CancelTrip(context.Background(), "pass-other", tr2.ID, ""), trip.ErrTripNotAvailable)
}

func TestAcceptRechecksActiveRidesUnderLedgerLock(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)
	f.svc.tracker.Mark(tr.ID, "cap-1")

	// a concurrent acceptance by the same captain commits while this one is
	// waiting on the ledger row lock; the pre-transaction eligibility read
	// saw zero active rides
	f.payments.onDebit = func() { f.captains.setActive("cap-1", 1) }

	err := f.svc.AcceptRide(context.Background(), "cap-1", tr.ID)
	require.ErrorIs(t, err, captain.ErrNotEligible)

	got, err := f.trips.ByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, trip.StatusRequested, got.Status)
	require.Nil(t, got.DriverID)
}

func TestPassengerCancelAfterAcceptClearsDriver(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))

	require.NoError(t, f.svc.CancelTrip(context.Background(), "pass-1", tr.ID, "changed plans"))
	f.svc.Wait()

	got, err := f.trips.ByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, trip.StatusCancelled, got.Status)
	require.Nil(t, got.DriverID)

	// the assigned captain is still the one told to drop the ride
	require.GreaterOrEqual(t, f.notifier.countEvents(func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventHideRide
	}), 1)
}

func TestFullRideLifecycle(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))

	// arrive, start, end
	require.NoError(t, f.svc.MarkArrived(context.Background(), "cap-1", tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusArrived)
	require.NoError(t, f.svc.StartRide(context.Background(), "cap-1", tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusOnRide)
	require.NoError(t, f.svc.EndRide(context.Background(), "cap-1", tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusAwaitingPayment)

	// the captain is asked to collect the fare
	d, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventPaymentRequired
	})
	require.True(t, ok)
	require.Equal(t, int64(3000), d.Payload.(contracts.PaymentRequired).ExpectedAmount)

	// out-of-order operations are refused
	require.ErrorIs(t, f.svc.StartRide(context.Background(), "cap-1", tr.ID), trip.ErrTripNotAvailable)

	require.NoError(t, f.svc.SubmitPayment(context.Background(), "cap-1", tr.ID, 3000, ""))
	waitStatus(t, f, tr.ID, trip.StatusCompleted)

	stored, err := f.trips.ByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3000), *stored.PaymentReceived)

	// a second submit cannot settle twice
	require.ErrorIs(t, f.svc.SubmitPayment(context.Background(), "cap-1", tr.ID, 3000, ""), trip.ErrTripNotAvailable)
	require.Len(t, f.payments.settlement, 1)

	_, ok = f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "pass-1" && d.Event == contracts.EventRideCompleted
	})
	require.True(t, ok)
	f.svc.Wait()
}

func TestDriverCancelReturnsTripToPool(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	tr := f.addTrip("trip-1", "pass-1", 3000)

	require.True(t, f.svc.StartDispatch(context.Background(), tr.ID))
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))
	f.svc.Wait()

	// only the assigned driver may cancel
	require.ErrorIs(t, f.svc.CancelRide(context.Background(), "cap-other", tr.ID), trip.ErrTripNotAvailable)

	require.NoError(t, f.svc.CancelRide(context.Background(), "cap-1", tr.ID))

	// the trip is requested again with no driver and a fresh dispatcher
	// re-offers it (the tracker was reset when the first dispatch ended)
	d, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)
	require.Equal(t, tr.ID, d.Payload.(contracts.RideOffer).RideID)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))
	waitStatus(t, f, tr.ID, trip.StatusAccepted)
	f.svc.Wait()
}

func TestUpdateLocationValidatesCoordinates(t *testing.T) {
	f := newFixture(testConfig())
	require.Error(t, f.svc.UpdateLocation(context.Background(), "cap-1", 95, 44))
	require.Error(t, f.svc.UpdateLocation(context.Background(), "cap-1", 33, 200))

	require.NoError(t, f.svc.UpdateLocation(context.Background(), "cap-1", pickupLat, pickupLon))
	require.Len(t, f.sink.pushes, 1)
	require.Equal(t, "cap-1", f.sink.pushes[0].CaptainID)
	require.Len(t, f.publisher.pings, 1)
}

func TestHandleControlMessageAppliesAndPersists(t *testing.T) {
	f := newFixture(testConfig())

	body := []byte(`{"maxRadiusKm": 15, "notificationTimeoutSec": 20, "commissionRate": 0.25}`)
	require.NoError(t, f.svc.HandleControlMessage(context.Background(), body))

	cfg := f.svc.Config()
	require.Equal(t, float64(15), cfg.MaxRadiusKm)
	require.Equal(t, 20*time.Second, cfg.NotificationTimeout)
	require.Equal(t, 0.25, cfg.CommissionRate)

	f.settings.mu.Lock()
	saved := f.settings.saved
	f.settings.mu.Unlock()
	require.NotNil(t, saved)
	require.Equal(t, float64(15), saved.MaxRadiusKm)

	require.Error(t, f.svc.HandleControlMessage(context.Background(), []byte("{not json")))
}

func TestRequestTripQuotesAndDispatches(t *testing.T) {
	f := newFixture(testConfig())
	f.addCaptain("cap-1", pickupLat+0.004, pickupLon)
	f.notifier.setOnline("pass-1", true)

	tr, err := f.svc.RequestTrip(context.Background(), "pass-1", contracts.TripRequest{
		PickupLat:   pickupLat,
		PickupLon:   pickupLon,
		PickupName:  "Karrada",
		DropoffLat:  pickupLat + 0.03,
		DropoffLon:  pickupLon + 0.03,
		DropoffName: "Mansour",
	})
	require.NoError(t, err)
	require.Equal(t, trip.StatusRequested, tr.Status)
	require.Equal(t, "IQD", tr.Fare.Currency)
	require.GreaterOrEqual(t, tr.Fare.Amount, f.svc.Config().MinRidePrice)
	require.Positive(t, tr.DistanceKm)
	require.GreaterOrEqual(t, tr.DurationSec, 60)

	// dispatch started on its own
	_, ok := f.notifier.waitFor(2*time.Second, func(d delivered) bool {
		return d.ID == "cap-1" && d.Event == contracts.EventNewRide
	})
	require.True(t, ok)

	require.NoError(t, f.svc.AcceptRide(context.Background(), "cap-1", tr.ID))
	f.svc.Wait()
}

func TestRequestTripRejectsBadCoordinates(t *testing.T) {
	f := newFixture(testConfig())
	_, err := f.svc.RequestTrip(context.Background(), "pass-1", contracts.TripRequest{
		PickupLat: 120, PickupLon: 44,
		DropoffLat: 33, DropoffLon: 44,
	})
	require.Error(t, err)
}
