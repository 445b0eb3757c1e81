package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"

	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	AdminID string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) NotifyCaptain(string, string, any) bool   { return false }
func (r *recordingNotifier) NotifyPassenger(string, string, any) bool { return false }

func (r *recordingNotifier) NotifyAdmin(id, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{AdminID: id, Event: event, Payload: payload})
	return true
}

func (r *recordingNotifier) BroadcastCaptains(string, any) int { return 0 }

func (r *recordingNotifier) count(match func(recordedEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func newTestHub() (*Hub, *recordingNotifier, *dispatch.Config) {
	cfg := dispatch.Defaults()
	n := &recordingNotifier{}
	h := NewHub(logger.New("tracking-test"), n, func() *dispatch.Config { return cfg })
	return h, n, cfg
}

func TestSubscribeStaffRoles(t *testing.T) {
	h, _, _ := newTestHub()

	for _, role := range []string{"ADMIN", "dispatcher", "Manager", "SUPPORT"} {
		id, err := h.Subscribe("admin-"+role, role, nil)
		require.NoError(t, err, "role %s", role)
		require.NotEmpty(t, id)
	}
	require.Equal(t, 4, h.Stats().ActiveSessions)
}

func TestSubscribeRequiresPermission(t *testing.T) {
	h, _, _ := newTestHub()

	_, err := h.Subscribe("cap-1", "CAPTAIN", nil)
	require.ErrorIs(t, err, ErrTrackingForbidden)

	_, err = h.Subscribe("user-1", "not-a-role", nil)
	require.ErrorIs(t, err, ErrTrackingForbidden)

	// a non-staff role with the explicit grant passes
	id, err := h.Subscribe("cap-1", "CAPTAIN", []string{"location_tracking"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestSubscribeSessionCap(t *testing.T) {
	h, _, cfg := newTestHub()
	cfg.MaxTrackingSessions = 2

	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)
	_, err = h.Subscribe("admin-2", "ADMIN", nil)
	require.NoError(t, err)

	_, err = h.Subscribe("admin-3", "ADMIN", nil)
	require.ErrorIs(t, err, ErrTooManySessions)

	// re-subscribing an existing admin replaces the session, no new slot
	_, err = h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)

	h.Unsubscribe("admin-2")
	_, err = h.Subscribe("admin-3", "ADMIN", nil)
	require.NoError(t, err)
}

func TestPushFansOutToSubscribers(t *testing.T) {
	h, n, _ := newTestHub()
	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)
	_, err = h.Subscribe("admin-2", "DISPATCHER", nil)
	require.NoError(t, err)

	h.Push(contracts.CaptainLocation{CaptainID: "cap-1", Lat: 33.3, Lon: 44.4, UpdatedAt: time.Now().UTC()})

	require.Equal(t, 2, n.count(func(e recordedEvent) bool {
		u := e.Payload.(contracts.AdminLocationUpdate)
		return e.Event == contracts.EventCaptainLocationUpdate &&
			u.Type == contracts.LocationUpdateTypeUpdate &&
			u.Data.CaptainID == "cap-1"
	}))

	stats := h.Stats()
	require.Equal(t, 1, stats.TrackedCaptains)
	require.Equal(t, uint64(2), stats.UpdatesDelivered)
}

func TestDropAnnouncesRemoval(t *testing.T) {
	h, n, _ := newTestHub()
	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)

	h.Push(contracts.CaptainLocation{CaptainID: "cap-1", UpdatedAt: time.Now().UTC()})
	h.Drop("cap-1")

	require.Equal(t, 1, n.count(func(e recordedEvent) bool {
		u := e.Payload.(contracts.AdminLocationUpdate)
		return u.Type == contracts.LocationUpdateTypeRemoved && u.CaptainID == "cap-1"
	}))
	require.Zero(t, h.Stats().TrackedCaptains)

	// dropping an unknown captain is silent
	h.Drop("cap-ghost")
	require.Equal(t, 1, n.count(func(e recordedEvent) bool {
		return e.Payload.(contracts.AdminLocationUpdate).Type == contracts.LocationUpdateTypeRemoved
	}))
}

func TestExpireStaleRemovesOldPositions(t *testing.T) {
	h, n, cfg := newTestHub()
	cfg.LocationExpiry = 60 * time.Second
	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	h.Push(contracts.CaptainLocation{CaptainID: "cap-fresh", UpdatedAt: now})
	h.Push(contracts.CaptainLocation{CaptainID: "cap-stale", UpdatedAt: now.Add(-2 * time.Minute)})

	h.expireStale()

	locs := h.CurrentLocations()
	require.Len(t, locs, 1)
	require.Equal(t, "cap-fresh", locs[0].CaptainID)

	require.Equal(t, 1, n.count(func(e recordedEvent) bool {
		u := e.Payload.(contracts.AdminLocationUpdate)
		return u.Type == contracts.LocationUpdateTypeRemoved && u.CaptainID == "cap-stale"
	}))
}

func TestFocusCaptain(t *testing.T) {
	h, _, _ := newTestHub()
	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)

	h.Push(contracts.CaptainLocation{CaptainID: "cap-1", Lat: 33.3, Lon: 44.4, UpdatedAt: time.Now().UTC()})

	loc, ok := h.FocusCaptain("admin-1", "cap-1")
	require.True(t, ok)
	require.Equal(t, 33.3, loc.Lat)

	_, ok = h.FocusCaptain("admin-1", "cap-unknown")
	require.False(t, ok)

	// admins without a session see nothing
	_, ok = h.FocusCaptain("admin-ghost", "cap-1")
	require.False(t, ok)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h, n, _ := newTestHub()
	_, err := h.Subscribe("admin-1", "ADMIN", nil)
	require.NoError(t, err)

	h.Push(contracts.CaptainLocation{CaptainID: "cap-1", UpdatedAt: time.Now().UTC()})
	h.Unsubscribe("admin-1")
	h.Push(contracts.CaptainLocation{CaptainID: "cap-1", UpdatedAt: time.Now().UTC()})

	require.Equal(t, 1, n.count(func(e recordedEvent) bool {
		return e.Event == contracts.EventCaptainLocationUpdate
	}))
}

func TestCurrentLocationsSnapshot(t *testing.T) {
	h, _, _ := newTestHub()
	for i := 0; i < 5; i++ {
		h.Push(contracts.CaptainLocation{CaptainID: fmt.Sprintf("cap-%d", i), UpdatedAt: time.Now().UTC()})
	}
	require.Len(t, h.CurrentLocations(), 5)
}
