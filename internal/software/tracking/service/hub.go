package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"

	"github.com/google/uuid"
)

var (
	ErrTrackingForbidden = errors.New("location tracking not permitted")
	ErrTooManySessions   = errors.New("tracking session limit reached")
)

// sweepEvery bounds how late a stale position removal can be announced.
const sweepEvery = 10 * time.Second

// Hub fans captain location updates out to subscribed staff and expires
// positions that stop updating.
type Hub struct {
	logger   *logger.Logger
	notifier ports.Notifier
	cfg      func() *dispatch.Config

	mu        sync.Mutex
	positions map[string]contracts.CaptainLocation // captainID -> last position
	sessions  map[string]string                    // adminID -> sessionID

	updatesDelivered uint64
	startedAt        time.Time
}

// NewHub constructs the tracking hub.
func NewHub(logger *logger.Logger, notifier ports.Notifier, cfg func() *dispatch.Config) *Hub {
	return &Hub{
		logger:    logger,
		notifier:  notifier,
		cfg:       cfg,
		positions: make(map[string]contracts.CaptainLocation),
		sessions:  make(map[string]string),
		startedAt: time.Now().UTC(),
	}
}

// Run expires stale positions until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.expireStale()
		}
	}
}

// --- ports.TrackingHub ---

// Subscribe opens a tracking session. Staff roles pass outright; anyone else
// needs the explicit location_tracking permission. The session cap fails
// closed.
func (h *Hub) Subscribe(adminID, role string, permissions []string) (string, error) {
	parsed, err := user.ParseRole(role)
	if err != nil || !user.CanTrackLocations(parsed, permissions) {
		return "", ErrTrackingForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[adminID]; !exists && len(h.sessions) >= h.cfg().MaxTrackingSessions {
		return "", ErrTooManySessions
	}

	sessionID := uuid.NewString()
	h.sessions[adminID] = sessionID

	h.logger.Info(context.Background(), "tracking_subscribed", "Admin tracking session opened", map[string]any{
		"admin_id":   adminID,
		"session_id": sessionID,
		"sessions":   len(h.sessions),
	})
	return sessionID, nil
}

// Unsubscribe closes the admin's session, if any.
func (h *Hub) Unsubscribe(adminID string) {
	h.mu.Lock()
	_, existed := h.sessions[adminID]
	delete(h.sessions, adminID)
	h.mu.Unlock()

	if existed {
		h.logger.Info(context.Background(), "tracking_unsubscribed", "Admin tracking session closed", map[string]any{
			"admin_id": adminID,
		})
	}
}

// CurrentLocations snapshots every fresh captain position.
func (h *Hub) CurrentLocations() []contracts.CaptainLocation {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]contracts.CaptainLocation, 0, len(h.positions))
	for _, loc := range h.positions {
		out = append(out, loc)
	}
	return out
}

// Stats summarizes the hub.
func (h *Hub) Stats() contracts.TrackingStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return contracts.TrackingStats{
		ActiveSessions:   len(h.sessions),
		TrackedCaptains:  len(h.positions),
		UpdatesDelivered: h.updatesDelivered,
		StartedAt:        h.startedAt,
	}
}

// FocusCaptain returns one captain's latest position.
func (h *Hub) FocusCaptain(adminID, captainID string) (contracts.CaptainLocation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, subscribed := h.sessions[adminID]; !subscribed {
		return contracts.CaptainLocation{}, false
	}
	loc, ok := h.positions[captainID]
	return loc, ok
}

// --- ports.LocationSink ---

// Push records a captain position and fans it out to every session.
func (h *Hub) Push(update contracts.CaptainLocation) {
	h.mu.Lock()
	h.positions[update.CaptainID] = update
	admins := h.subscriberIDs()
	h.mu.Unlock()

	h.fanOut(admins, contracts.AdminLocationUpdate{
		Type: contracts.LocationUpdateTypeUpdate,
		Data: &update,
	})
}

// Drop removes a captain immediately and announces the removal.
func (h *Hub) Drop(captainID string) {
	h.mu.Lock()
	_, existed := h.positions[captainID]
	delete(h.positions, captainID)
	admins := h.subscriberIDs()
	h.mu.Unlock()

	if existed {
		h.fanOut(admins, contracts.AdminLocationUpdate{
			Type:      contracts.LocationUpdateTypeRemoved,
			CaptainID: captainID,
		})
	}
}

// --- internals ---

// subscriberIDs copies the session keys; caller holds h.mu.
func (h *Hub) subscriberIDs() []string {
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

func (h *Hub) fanOut(admins []string, update contracts.AdminLocationUpdate) {
	delivered := uint64(0)
	for _, adminID := range admins {
		if h.notifier.NotifyAdmin(adminID, contracts.EventCaptainLocationUpdate, update) {
			delivered++
		}
	}

	h.mu.Lock()
	h.updatesDelivered += delivered
	h.mu.Unlock()
}

// expireStale removes positions older than the configured expiry and
// announces each removal.
func (h *Hub) expireStale() {
	expiry := h.cfg().LocationExpiry
	cutoff := time.Now().UTC().Add(-expiry)

	h.mu.Lock()
	var removed []string
	for id, loc := range h.positions {
		if loc.UpdatedAt.Before(cutoff) {
			delete(h.positions, id)
			removed = append(removed, id)
		}
	}
	admins := h.subscriberIDs()
	h.mu.Unlock()

	for _, captainID := range removed {
		h.fanOut(admins, contracts.AdminLocationUpdate{
			Type:      contracts.LocationUpdateTypeRemoved,
			CaptainID: captainID,
		})
	}

	if len(removed) > 0 {
		h.logger.Info(context.Background(), "tracking_positions_expired", "Stale captain positions removed", map[string]any{
			"removed": len(removed),
		})
	}
}
