package service

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
)

const (
	sweepMin = 30 * time.Second
	sweepMax = 120 * time.Second
)

// RunSupervisor sweeps for orphaned requested trips and spawns a dispatcher
// for each until ctx is cancelled. The sweep interval adapts: finding work
// shortens it, idle sweeps stretch it back out.
func (s *Service) RunSupervisor(ctx context.Context) {
	interval := sweepMin

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		started, err := s.sweep(ctx)
		if err != nil {
			s.logger.Error(ctx, "supervisor_sweep_failed", "Supervisor sweep failed", err, nil)
			interval = sweepMax
			continue
		}

		if started > 0 {
			interval = sweepMin
		} else if interval < sweepMax {
			interval *= 2
			if interval > sweepMax {
				interval = sweepMax
			}
		}
	}
}

// sweep lists open trips not already owned locally, rejects the ones past
// their total dispatch budget, and starts dispatchers for the rest.
func (s *Service) sweep(ctx context.Context) (int, error) {
	cfg := s.Config()

	excluding := make(map[string]struct{})
	s.inflight.Range(func(k, _ any) bool {
		excluding[k.(string)] = struct{}{}
		return true
	})

	var open []*trip.Trip
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		open, err = s.trips.ListRequested(ctx, excluding)
		return err
	})
	if err != nil {
		return 0, err
	}

	budget := cfg.MaxDispatchTime + cfg.GraceAfterMaxRadius
	now := time.Now().UTC()
	started := 0

	for _, t := range open {
		if t.Age(now) > budget {
			s.rejectStale(ctx, t)
			continue
		}
		if s.StartDispatch(ctx, t.ID) {
			started++
		}
	}

	if started > 0 {
		s.logger.Info(ctx, "supervisor_sweep", "Supervisor started dispatchers for orphaned trips", map[string]any{
			"open":    len(open),
			"started": started,
		})
	}
	return started, nil
}

// rejectStale closes out a trip that outlived its whole dispatch budget.
func (s *Service) rejectStale(ctx context.Context, t *trip.Trip) {
	now := time.Now().UTC()
	pre, patch := trip.NotApprove("dispatch window expired", now)

	if _, err := s.cas(ctx, t.ID, pre, patch); err != nil {
		if !errors.Is(err, trip.ErrTripNotAvailable) {
			s.logger.Error(ctx, "supervisor_reject_failed", "Failed to reject stale trip", err, map[string]any{
				"trip_id": t.ID,
			})
		}
		return
	}

	_ = s.notifier.NotifyPassenger(t.PassengerID, contracts.EventRideNotApproved, contracts.RideStatusUpdate{
		RideID: t.ID,
		Status: string(trip.StatusNotApprove),
	})
	s.publishStatus(ctx, t.ID, string(trip.StatusNotApprove), "", "dispatch window expired")
	s.metrics.DispatchOutcomes.WithLabelValues("timeout").Inc()

	s.logger.Info(ctx, "supervisor_rejected_stale", "Stale requested trip closed out", map[string]any{
		"trip_id": t.ID,
		"age_sec": int(t.Age(now).Seconds()),
	})
}
