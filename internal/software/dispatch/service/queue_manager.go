package service

import (
	"context"
	"sync"
	"time"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/ports"
)

// requeueAge is how long an offer may sit in the queue before its pending
// timeout is stretched by the configured multiplier.
const requeueAge = 30 * time.Second

// pendingOffer is the single outstanding newRide a captain must answer.
type pendingOffer struct {
	TripID  string
	SentAt  time.Time
	Timeout time.Duration
	Attempt int
	timer   *time.Timer
}

// captainState is the per-captain single-flight record. All access is
// serialized through its own mutex.
type captainState struct {
	mu      sync.Mutex
	pending *pendingOffer
	queue   []queuedOffer
}

// QueueManager enforces at most one outstanding ride offer per captain and
// parks the overflow in a bounded priority queue.
type QueueManager struct {
	logger   *logger.Logger
	notifier ports.Notifier
	presence ports.Presence
	metrics  *metrics.Metrics

	// cfg yields the current dispatch tuning; swapped atomically at runtime.
	cfg func() *dispatch.Config

	// offerable reports whether a trip is still worth offering to a captain
	// (status still requested, captain still eligible).
	offerable func(ctx context.Context, tripID, captainID string) bool

	mu     sync.Mutex
	states map[string]*captainState
}

// NewQueueManager constructs the per-captain offer queue.
func NewQueueManager(
	logger *logger.Logger,
	notifier ports.Notifier,
	presence ports.Presence,
	m *metrics.Metrics,
	cfg func() *dispatch.Config,
	offerable func(ctx context.Context, tripID, captainID string) bool,
) *QueueManager {
	return &QueueManager{
		logger:    logger,
		notifier:  notifier,
		presence:  presence,
		metrics:   m,
		cfg:       cfg,
		offerable: offerable,
		states:    make(map[string]*captainState),
	}
}

// stateOf returns the captain's state record, creating it on first use.
func (qm *QueueManager) stateOf(captainID string) *captainState {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	st, ok := qm.states[captainID]
	if !ok {
		st = &captainState{}
		qm.states[captainID] = st
	}
	return st
}

// HasPending reports whether the captain currently has an unanswered offer.
func (qm *QueueManager) HasPending(captainID string) bool {
	st := qm.stateOf(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending != nil
}

// Send offers a ride to a captain. Idle captains get the offer immediately;
// busy ones get it queued (dropping the oldest entry when full). A tripId
// never appears twice for the same captain.
func (qm *QueueManager) Send(ctx context.Context, captainID string, offer contracts.RideOffer) ports.SendResult {
	cfg := qm.cfg()
	st := qm.stateOf(captainID)

	st.mu.Lock()
	defer st.mu.Unlock()

	// duplicate guard across pending and queue
	if st.pending != nil && st.pending.TripID == offer.RideID {
		return ports.SendResult{Outcome: ports.SendDropped}
	}
	for _, q := range st.queue {
		if q.TripID == offer.RideID {
			return ports.SendResult{Outcome: ports.SendDropped}
		}
	}

	if st.pending == nil {
		if !qm.deliverLocked(ctx, captainID, st, offer, cfg.NotificationTimeout, 1) {
			qm.metrics.NotificationsSent.WithLabelValues("dropped").Inc()
			return ports.SendResult{Outcome: ports.SendDropped}
		}
		qm.metrics.NotificationsSent.WithLabelValues("sent").Inc()
		return ports.SendResult{Outcome: ports.SendSent}
	}

	// captain busy: park the offer
	if len(st.queue) >= cfg.MaxQueueLength {
		dropped := st.queue[0]
		st.queue = st.queue[1:]
		qm.metrics.QueueDepth.Dec()
		qm.logger.Info(ctx, "queue_offer_evicted", "Oldest queued offer dropped, queue full", map[string]any{
			"captain_id": captainID,
			"trip_id":    dropped.TripID,
		})
	}
	st.queue = append(st.queue, queuedOffer{
		TripID:   offer.RideID,
		QueuedAt: time.Now(),
		Offer:    offer,
	})
	qm.metrics.QueueDepth.Inc()
	qm.metrics.NotificationsSent.WithLabelValues("queued").Inc()

	return ports.SendResult{Outcome: ports.SendQueued, Position: len(st.queue)}
}

// deliverLocked emits newRide and installs the pending slot with its one-shot
// timer. Caller holds st.mu.
func (qm *QueueManager) deliverLocked(ctx context.Context, captainID string, st *captainState, offer contracts.RideOffer, timeout time.Duration, attempt int) bool {
	if !qm.notifier.NotifyCaptain(captainID, contracts.EventNewRide, offer) {
		return false
	}

	p := &pendingOffer{
		TripID:  offer.RideID,
		SentAt:  time.Now(),
		Timeout: timeout,
		Attempt: attempt,
	}
	p.timer = time.AfterFunc(timeout, func() {
		qm.OnTimeout(captainID, offer.RideID)
	})
	st.pending = p

	qm.logger.Debug(ctx, "offer_sent", "Ride offer sent to captain", map[string]any{
		"captain_id": captainID,
		"trip_id":    offer.RideID,
		"timeout_ms": timeout.Milliseconds(),
		"attempt":    attempt,
	})
	return true
}

// OnAccept clears the matching pending offer and flushes the whole queue; the
// captain is busy now. Returns false when the trip was not pending for this
// captain.
func (qm *QueueManager) OnAccept(captainID, tripID string) bool {
	st := qm.stateOf(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending == nil || st.pending.TripID != tripID {
		return false
	}

	st.pending.timer.Stop()
	st.pending = nil
	qm.metrics.QueueDepth.Sub(float64(len(st.queue)))
	st.queue = nil
	return true
}

// OnReject clears the matching pending offer and schedules the next queue pop
// after the configured delay. Returns false when the trip was not pending,
// so a duplicate reject cannot advance the queue twice.
func (qm *QueueManager) OnReject(captainID, tripID string) bool {
	st := qm.stateOf(captainID)
	st.mu.Lock()

	if st.pending == nil || st.pending.TripID != tripID {
		st.mu.Unlock()
		return false
	}

	st.pending.timer.Stop()
	st.pending = nil
	st.mu.Unlock()

	delay := qm.cfg().QueueProcessingDelay
	time.AfterFunc(delay, func() { qm.ProcessNext(captainID) })
	return true
}

// OnTimeout expires an unanswered offer; behaviour matches a reject with
// reason timeout.
func (qm *QueueManager) OnTimeout(captainID, tripID string) {
	if qm.OnReject(captainID, tripID) {
		qm.logger.Info(context.Background(), "offer_timeout", "Ride offer expired unanswered", map[string]any{
			"captain_id": captainID,
			"trip_id":    tripID,
		})
	}
}

// OnDisconnect clears all state for a captain in one sweep.
func (qm *QueueManager) OnDisconnect(captainID string) {
	st := qm.stateOf(captainID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending != nil {
		st.pending.timer.Stop()
		st.pending = nil
	}
	qm.metrics.QueueDepth.Sub(float64(len(st.queue)))
	st.queue = nil
}

// ProcessNext pops the best queued offer and delivers it if its trip is still
// open and the captain still qualifies, looping past stale entries.
func (qm *QueueManager) ProcessNext(captainID string) {
	ctx := context.Background()
	cfg := qm.cfg()
	st := qm.stateOf(captainID)

	st.mu.Lock()
	defer st.mu.Unlock()

	for st.pending == nil && len(st.queue) > 0 {
		now := time.Now()
		var next queuedOffer
		next, st.queue = popBest(st.queue, now)
		qm.metrics.QueueDepth.Dec()

		if !qm.presence.CaptainOnline(captainID) {
			// captain gone; drain silently, OnDisconnect will follow
			continue
		}
		if !qm.offerable(ctx, next.TripID, captainID) {
			continue
		}

		timeout := cfg.NotificationTimeout
		if now.Sub(next.QueuedAt) > requeueAge {
			timeout = time.Duration(float64(timeout) * cfg.QueueTimeoutMultiplier)
		}
		_ = qm.notifier.NotifyCaptain(captainID, contracts.EventNextInQueue, contracts.NextInQueue{
			RideID:    next.TripID,
			Remaining: len(st.queue),
		})
		if qm.deliverLocked(ctx, captainID, st, next.Offer, timeout, 2) {
			qm.metrics.NotificationsSent.WithLabelValues("sent").Inc()
			return
		}
	}
}
