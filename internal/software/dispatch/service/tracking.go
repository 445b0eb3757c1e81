package service

import "sync"

// notificationTracker remembers which captains were told about each trip: the
// global set drives avoidance and final hideRide fan-out, the current-radius
// set drives the targeted expanding broadcast.
type notificationTracker struct {
	mu     sync.Mutex
	global map[string]map[string]struct{} // tripID -> captainIDs
	radius map[string]map[string]struct{} // tripID -> captainIDs at current radius
}

func newNotificationTracker() *notificationTracker {
	return &notificationTracker{
		global: make(map[string]map[string]struct{}),
		radius: make(map[string]map[string]struct{}),
	}
}

// Mark records that a captain was notified about a trip at the current radius.
func (nt *notificationTracker) Mark(tripID, captainID string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if nt.global[tripID] == nil {
		nt.global[tripID] = make(map[string]struct{})
	}
	nt.global[tripID][captainID] = struct{}{}

	if nt.radius[tripID] == nil {
		nt.radius[tripID] = make(map[string]struct{})
	}
	nt.radius[tripID][captainID] = struct{}{}
}

// Notified reports whether the captain was ever notified about the trip.
func (nt *notificationTracker) Notified(tripID, captainID string) bool {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	_, ok := nt.global[tripID][captainID]
	return ok
}

// CurrentRadius returns the captains notified at the current radius and
// resets the set for the next ring.
func (nt *notificationTracker) CurrentRadius(tripID string) []string {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	set := nt.radius[tripID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	delete(nt.radius, tripID)
	return out
}

// All returns every captain ever notified about the trip.
func (nt *notificationTracker) All(tripID string) []string {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	set := nt.global[tripID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Forget drops all tracking state for a trip once its dispatch terminates.
func (nt *notificationTracker) Forget(tripID string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	delete(nt.global, tripID)
	delete(nt.radius, tripID)
}
