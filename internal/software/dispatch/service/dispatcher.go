package service

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/ports"
)

const (
	expandBackoff  = 2 * time.Second
	gracePollEvery = 5 * time.Second
	// maxPhaseErrors aborts one trip's dispatch after this many consecutive
	// store/search failures.
	maxPhaseErrors = 3
)

// phaseResult is the outcome of one dispatcher phase.
type phaseResult int

const (
	phaseContinue phaseResult = iota
	phaseAccepted
	phaseCancelled
	phaseExpired
	phaseError
)

// StartDispatch claims the trip and runs its dispatcher in a new goroutine.
// Returns false when the trip is already being dispatched or the breaker is
// open. Exactly one dispatcher runs per trip.
func (s *Service) StartDispatch(ctx context.Context, tripID string) bool {
	if !s.brk.Allow() {
		s.logger.Info(ctx, "dispatch_suppressed", "Dispatch start suppressed, breaker open", map[string]any{
			"trip_id": tripID,
		})
		return false
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &dispatchHandle{
		signals: make(chan dispatchSignal, 1),
		cancel:  cancel,
	}
	if _, loaded := s.inflight.LoadOrStore(tripID, h); loaded {
		cancel()
		return false
	}

	// claim the row. A driver-cancel or a restart may have left
	// dispatching=true with no live dispatcher; the local in-flight claim
	// above already guarantees exclusivity in that case.
	pre, patch := trip.ClaimDispatch()
	t, err := s.cas(runCtx, tripID, pre, patch)
	if err != nil {
		if !errors.Is(err, trip.ErrTripNotAvailable) {
			s.inflight.Delete(tripID)
			cancel()
			s.brk.Failure()
			return false
		}
		t, err = s.loadTrip(runCtx, tripID)
		if err != nil || t.Status != trip.StatusRequested || !t.Dispatching {
			s.inflight.Delete(tripID)
			cancel()
			return false
		}
	}

	s.metrics.DispatchStarted.Inc()
	s.metrics.ActiveDispatchers.Inc()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.metrics.ActiveDispatchers.Dec()
		defer s.inflight.Delete(tripID)
		defer s.tracker.Forget(tripID)
		defer cancel()

		s.runDispatcher(s.logger.WithTripID(runCtx, tripID), h, t)
	}()

	return true
}

// CancelDispatch aborts the dispatcher owning the trip, if any.
func (s *Service) CancelDispatch(tripID string) {
	s.signalTrip(tripID, signalCancelled)
}

// runDispatcher drives one trip through SEARCHING/WAITING rings, the grace
// window, and final disposition.
func (s *Service) runDispatcher(ctx context.Context, h *dispatchHandle, t *trip.Trip) {
	cfg := s.Config()

	if !t.Pickup.Valid() {
		s.failTrip(ctx, t, "invalid pickup coordinates")
		return
	}

	s.logger.Info(ctx, "dispatch_started", "Dispatch loop started", map[string]any{
		"trip_id":           t.ID,
		"initial_radius_km": cfg.InitialRadiusKm,
		"max_radius_km":     cfg.MaxRadiusKm,
	})

	deadline := time.Now().Add(cfg.MaxDispatchTime)
	phaseErrors := 0
	radius := cfg.InitialRadiusKm

	for radius <= cfg.MaxRadiusKm {
		sent, err := s.searchRing(ctx, t, radius)
		if err != nil {
			phaseErrors++
			s.logger.Error(ctx, "dispatch_search_failed", "Radius search failed", err, map[string]any{
				"trip_id":   t.ID,
				"radius_km": radius,
			})
			if phaseErrors >= maxPhaseErrors {
				s.brk.Failure()
				s.failTrip(ctx, t, "dispatch search failed")
				return
			}
		} else {
			phaseErrors = 0
		}

		if sent > 0 {
			switch s.waitPhase(ctx, h, t.ID, cfg.NotificationTimeout) {
			case phaseAccepted:
				s.finishAccepted(ctx, t.ID)
				return
			case phaseCancelled:
				s.finishCancelled(ctx, t.ID)
				return
			case phaseError:
				s.brk.Failure()
				s.failTrip(ctx, t, "store unavailable during dispatch")
				return
			}
			// expired: hide from this ring only, then widen
			s.hideFrom(s.tracker.CurrentRadius(t.ID), t.ID, contracts.HideReasonExpanding, "")
		} else {
			// nothing new in this ring: widen without burning a full timeout
			s.tracker.CurrentRadius(t.ID)
		}

		if time.Now().After(deadline) {
			s.finishTimeout(ctx, t.ID, contracts.HideReasonDispatchTimeout)
			return
		}

		radius += cfg.RadiusIncrementKm
		s.metrics.RadiusExpansions.Inc()

		if radius <= cfg.MaxRadiusKm && sent > 0 {
			// pace notification bursts between rings
			switch s.waitPhase(ctx, h, t.ID, expandBackoff) {
			case phaseAccepted:
				s.finishAccepted(ctx, t.ID)
				return
			case phaseCancelled:
				s.finishCancelled(ctx, t.ID)
				return
			}
		}
	}

	// grace window: max radius exhausted, poll for a late acceptance
	graceEnd := time.Now().Add(cfg.GraceAfterMaxRadius)
	for time.Now().Before(graceEnd) && time.Now().Before(deadline) {
		wait := gracePollEvery
		if rest := time.Until(graceEnd); rest < wait {
			wait = rest
		}
		switch s.waitPhase(ctx, h, t.ID, wait) {
		case phaseAccepted:
			s.finishAccepted(ctx, t.ID)
			return
		case phaseCancelled:
			s.finishCancelled(ctx, t.ID)
			return
		case phaseError:
			s.brk.Failure()
			s.failTrip(ctx, t, "store unavailable during dispatch")
			return
		}
	}

	s.finishTimeout(ctx, t.ID, contracts.HideReasonMaxRadiusReached)
}

// searchRing notifies eligible, not-yet-notified captains inside the radius.
// Returns how many offers were routed (sent or queued).
func (s *Service) searchRing(ctx context.Context, t *trip.Trip, radiusKm float64) (int, error) {
	candidates, err := s.locations.Radius(ctx, t.Pickup.Lat, t.Pickup.Lon, radiusKm, 50)
	if err != nil {
		return 0, err
	}

	offer := buildOffer(t)
	sent := 0
	for _, cand := range candidates {
		if s.tracker.Notified(t.ID, cand.CaptainID) {
			continue
		}
		if !s.presence.CaptainOnline(cand.CaptainID) {
			continue
		}
		ok, reason, err := s.eligibleCaptain(ctx, cand.CaptainID)
		if err != nil {
			s.logger.Error(ctx, "eligibility_check_failed", "Captain eligibility check failed", err, map[string]any{
				"captain_id": cand.CaptainID,
			})
			continue
		}
		if !ok {
			s.logger.Debug(ctx, "captain_skipped", "Captain not eligible for offer", map[string]any{
				"captain_id": cand.CaptainID,
				"reason":     reason,
			})
			continue
		}

		res := s.queues.Send(ctx, cand.CaptainID, offer)
		if res.Outcome == ports.SendDropped {
			continue
		}
		s.tracker.Mark(t.ID, cand.CaptainID)
		sent++
	}

	s.logger.Info(ctx, "dispatch_ring_notified", "Captains notified in search ring", map[string]any{
		"trip_id":    t.ID,
		"radius_km":  radiusKm,
		"candidates": len(candidates),
		"notified":   sent,
	})
	return sent, nil
}

// waitPhase sleeps up to d, waking early on accept/cancel signals. On every
// wakeup the store is consulted so cross-process transitions are observed too.
func (s *Service) waitPhase(ctx context.Context, h *dispatchHandle, tripID string, d time.Duration) phaseResult {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return phaseCancelled
		case sig := <-h.signals:
			if sig == signalCancelled {
				return phaseCancelled
			}
			if res := s.checkTrip(ctx, tripID); res != phaseContinue {
				return res
			}
		case <-timer.C:
			if res := s.checkTrip(ctx, tripID); res != phaseContinue {
				return res
			}
			return phaseExpired
		}
	}
}

// checkTrip classifies the trip's current status for the wait loop.
func (s *Service) checkTrip(ctx context.Context, tripID string) phaseResult {
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return phaseError
	}
	switch {
	case t.Status == trip.StatusRequested:
		return phaseContinue
	case t.Status.Assigned() || t.Status == trip.StatusCompleted:
		return phaseAccepted
	default:
		return phaseCancelled
	}
}

// --- terminal dispositions ---

func (s *Service) finishAccepted(ctx context.Context, tripID string) {
	accepter := ""
	if t, err := s.loadTrip(ctx, tripID); err == nil && t.DriverID != nil {
		accepter = *t.DriverID
	}
	s.hideFrom(s.tracker.All(tripID), tripID, contracts.HideReasonRideTaken, accepter)

	s.metrics.DispatchOutcomes.WithLabelValues("accepted").Inc()
	s.brk.Success()
	s.logger.Info(ctx, "dispatch_finished", "Trip accepted, dispatch loop done", map[string]any{
		"trip_id":    tripID,
		"captain_id": accepter,
	})
}

func (s *Service) finishCancelled(ctx context.Context, tripID string) {
	s.hideFrom(s.tracker.All(tripID), tripID, contracts.HideReasonCancelled, "")

	// if the trip is somehow still open, hand it back to the supervisor
	pre, patch := trip.ReleaseDispatch()
	if _, err := s.cas(ctx, tripID, pre, patch); err != nil && !errors.Is(err, trip.ErrTripNotAvailable) {
		s.logger.Error(ctx, "dispatch_release_failed", "Failed to release dispatch lease", err, map[string]any{
			"trip_id": tripID,
		})
	}

	s.metrics.DispatchOutcomes.WithLabelValues("cancelled").Inc()
	s.brk.Success()
	s.logger.Info(ctx, "dispatch_finished", "Dispatch cancelled", map[string]any{"trip_id": tripID})
}

func (s *Service) finishTimeout(ctx context.Context, tripID, hideReason string) {
	now := time.Now().UTC()
	pre, patch := trip.NotApprove("no captain accepted", now)
	t, err := s.cas(ctx, tripID, pre, patch)
	if err != nil {
		if errors.Is(err, trip.ErrTripNotAvailable) {
			// lost the race to a very late accept or cancel; re-classify
			if res := s.checkTrip(ctx, tripID); res == phaseAccepted {
				s.finishAccepted(ctx, tripID)
				return
			}
			s.finishCancelled(ctx, tripID)
			return
		}
		s.brk.Failure()
		s.logger.Error(ctx, "dispatch_timeout_cas_failed", "Failed to mark trip notApprove", err, map[string]any{
			"trip_id": tripID,
		})
		return
	}

	s.hideFrom(s.tracker.All(tripID), tripID, hideReason, "")
	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventRideNotApproved, contracts.RideStatusUpdate{
		RideID: tripID,
		Status: string(trip.StatusNotApprove),
	})
	s.publishStatus(ctx, tripID, string(trip.StatusNotApprove), "", hideReason)

	outcome := "timeout"
	if hideReason == contracts.HideReasonMaxRadiusReached {
		outcome = "no_captains"
	}
	s.metrics.DispatchOutcomes.WithLabelValues(outcome).Inc()
	s.brk.Success()
	s.logger.Info(ctx, "dispatch_finished", "Trip not approved, no captain accepted", map[string]any{
		"trip_id": tripID,
		"reason":  hideReason,
	})
}

// failTrip marks a trip failed after an unrecoverable dispatch error.
func (s *Service) failTrip(ctx context.Context, t *trip.Trip, reason string) {
	now := time.Now().UTC()
	pre, patch := trip.Fail(reason, now)
	if _, err := s.cas(ctx, t.ID, pre, patch); err != nil && !errors.Is(err, trip.ErrTripNotAvailable) {
		s.logger.Error(ctx, "dispatch_fail_cas_failed", "Failed to mark trip failed", err, map[string]any{
			"trip_id": t.ID,
		})
	}

	s.hideFrom(s.tracker.All(t.ID), t.ID, contracts.HideReasonDispatchError, "")
	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventRideError, contracts.RideError{
		RideID: t.ID,
		Code:   "dispatch_failed",
		Detail: reason,
	})
	s.publishStatus(ctx, t.ID, string(trip.StatusFailed), "", reason)
	s.metrics.DispatchOutcomes.WithLabelValues("error").Inc()
}
