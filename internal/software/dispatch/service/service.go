package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/ports"
)

// dispatchSignal wakes a waiting dispatcher before its timer fires.
type dispatchSignal int

const (
	signalAccepted dispatchSignal = iota
	signalCancelled
)

// dispatchHandle is the process-local lease on one in-flight trip.
type dispatchHandle struct {
	signals chan dispatchSignal
	cancel  context.CancelFunc
}

// Service is the dispatch core: it owns the per-trip dispatcher loops, the
// per-captain offer queues, and the captain/passenger operation handlers.
type Service struct {
	logger    *logger.Logger
	uow       ports.UnitOfWork
	trips     ports.TripStore
	captains  ports.CaptainRepo
	locations ports.LocationIndex
	notifier  ports.Notifier
	presence  ports.Presence
	payments  ports.PaymentInterlock
	publisher ports.EventPublisher
	settings  ports.SettingsRepo
	sink      ports.LocationSink
	metrics   *metrics.Metrics

	cfg     atomic.Pointer[dispatch.Config]
	queues  *QueueManager
	tracker *notificationTracker
	brk     breaker

	inflight    sync.Map // tripID(string) -> *dispatchHandle
	assignments sync.Map // captainID(string) -> assignment
	wg          sync.WaitGroup
}

// NewService wires the dispatch core. cfg must already be normalized and
// validated.
func NewService(
	logger *logger.Logger,
	uow ports.UnitOfWork,
	trips ports.TripStore,
	captains ports.CaptainRepo,
	locations ports.LocationIndex,
	notifier ports.Notifier,
	presence ports.Presence,
	payments ports.PaymentInterlock,
	publisher ports.EventPublisher,
	settings ports.SettingsRepo,
	sink ports.LocationSink,
	m *metrics.Metrics,
	cfg *dispatch.Config,
) *Service {
	s := &Service{
		logger:    logger,
		uow:       uow,
		trips:     trips,
		captains:  captains,
		locations: locations,
		notifier:  notifier,
		presence:  presence,
		payments:  payments,
		publisher: publisher,
		settings:  settings,
		sink:      sink,
		metrics:   m,
		tracker:   newNotificationTracker(),
	}
	s.cfg.Store(cfg)
	s.queues = NewQueueManager(logger, notifier, presence, m, s.Config, s.stillOfferable)
	return s
}

// Config returns the current dispatch tuning.
func (s *Service) Config() *dispatch.Config {
	return s.cfg.Load()
}

// Queues exposes the offer queue for transport wiring and tests.
func (s *Service) Queues() *QueueManager {
	return s.queues
}

// ApplyConfig swaps the runtime configuration and broadcasts the change to
// every connected captain. Invalid configs are rejected; the old one stays.
func (s *Service) ApplyConfig(ctx context.Context, cfg *dispatch.Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.cfg.Store(cfg)
	delivered := s.notifier.BroadcastCaptains(contracts.EventConfigUpdate, cfg)

	s.logger.Info(ctx, "dispatch_config_applied", "Runtime dispatch configuration updated", map[string]any{
		"initial_radius_km": cfg.InitialRadiusKm,
		"max_radius_km":     cfg.MaxRadiusKm,
		"captains_notified": delivered,
	})
	return nil
}

// PersistConfig stores the current configuration in the settings row.
func (s *Service) PersistConfig(ctx context.Context) error {
	return s.uow.WithinTx(ctx, func(ctx context.Context) error {
		return s.settings.Save(ctx, s.Config())
	})
}

// Wait blocks until every in-flight dispatcher has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// --- shared helpers ---

// loadTrip reads one trip inside its own transaction.
func (s *Service) loadTrip(ctx context.Context, tripID string) (*trip.Trip, error) {
	var t *trip.Trip
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.trips.ByID(ctx, tripID)
		return err
	})
	return t, err
}

// cas runs one compare-and-set inside its own transaction.
func (s *Service) cas(ctx context.Context, tripID string, pre trip.Preconditions, patch trip.Patch) (*trip.Trip, error) {
	var t *trip.Trip
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.trips.CAS(ctx, tripID, pre, patch)
		return err
	})
	if err == nil && patch.Status != nil {
		s.metrics.TripTransitions.WithLabelValues(string(*patch.Status)).Inc()
	}
	return t, err
}

// eligibleCaptain loads the captain and runs the eligibility predicate.
func (s *Service) eligibleCaptain(ctx context.Context, captainID string) (bool, string, error) {
	cfg := s.Config()
	req := captain.Requirements{
		MinRating:        cfg.MinRating,
		MinWalletBalance: cfg.MinWalletBalance,
		MaxActiveRides:   cfg.MaxActiveRides,
	}

	var (
		ok     bool
		reason string
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.captains.ByID(ctx, captainID)
		if err != nil {
			return err
		}
		active, err := s.captains.ActiveTripCount(ctx, captainID)
		if err != nil {
			return err
		}
		ok, reason = c.Eligible(req, active)
		return nil
	})
	return ok, reason, err
}

// stillOfferable is the queue manager's pop-time recheck: the trip must still
// be open and the captain still eligible.
func (s *Service) stillOfferable(ctx context.Context, tripID, captainID string) bool {
	t, err := s.loadTrip(ctx, tripID)
	if err != nil || t.Status != trip.StatusRequested {
		return false
	}
	ok, _, err := s.eligibleCaptain(ctx, captainID)
	return err == nil && ok
}

// buildOffer renders the newRide payload from a trip snapshot.
func buildOffer(t *trip.Trip) contracts.RideOffer {
	return contracts.RideOffer{
		RideID:        t.ID,
		Pickup:        [2]float64{t.Pickup.Lon, t.Pickup.Lat},
		Dropoff:       [2]float64{t.Dropoff.Lon, t.Dropoff.Lat},
		Fare:          t.Fare.Amount,
		Currency:      t.Fare.Currency,
		Distance:      t.DistanceKm,
		Duration:      t.DurationSec,
		PaymentMethod: "cash",
		PickupName:    t.Pickup.Name,
		DropoffName:   t.Dropoff.Name,
		PassengerInfo: contracts.PassengerInfo{ID: t.PassengerID},
	}
}

// publishStatus emits one trip status message on the bus, best effort.
func (s *Service) publishStatus(ctx context.Context, tripID, status, driverID, reason string) {
	msg := contracts.TripStatusMessage{
		TripID:    tripID,
		Status:    status,
		DriverID:  driverID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Producer:  "dispatch-service",
	}
	if err := s.publisher.PublishTripStatus(ctx, msg); err != nil {
		s.logger.Error(ctx, "trip_status_publish_failed", "Failed to publish trip status", err, map[string]any{
			"trip_id": tripID,
			"status":  status,
		})
	}
}

// signalTrip wakes the dispatcher owning the trip, if any.
func (s *Service) signalTrip(tripID string, sig dispatchSignal) {
	v, ok := s.inflight.Load(tripID)
	if !ok {
		return
	}
	h := v.(*dispatchHandle)
	select {
	case h.signals <- sig:
	default:
		// dispatcher already has a wakeup queued
	}
}

// hideFrom sends hideRide to a set of captains, skipping except.
func (s *Service) hideFrom(captainIDs []string, tripID, reason, except string) {
	for _, id := range captainIDs {
		if id == except {
			continue
		}
		_ = s.notifier.NotifyCaptain(id, contracts.EventHideRide, contracts.HideRide{
			RideID: tripID,
			Reason: reason,
		})
	}
}
