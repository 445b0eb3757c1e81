package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"ride-dispatch/internal/domain/captain"
	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/ports"
)

// fakeUOW runs the function directly; the in-memory stores are their own
// source of truth.
type fakeUOW struct{}

func (fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memTrips is an in-memory TripStore with real CAS semantics.
type memTrips struct {
	mu    sync.Mutex
	trips map[string]*trip.Trip
}

func newMemTrips() *memTrips {
	return &memTrips{trips: make(map[string]*trip.Trip)}
}

func (m *memTrips) Create(_ context.Context, t *trip.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *memTrips) ByID(_ context.Context, id string) (*trip.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, trip.ErrTripNotAvailable
	}
	cp := *t
	return &cp, nil
}

func (m *memTrips) CAS(_ context.Context, id string, pre trip.Preconditions, patch trip.Patch) (*trip.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trips[id]
	if !ok {
		return nil, trip.ErrTripNotAvailable
	}
	if pre.Status != nil && t.Status != *pre.Status {
		return nil, trip.ErrTripNotAvailable
	}
	if pre.DriverNull && t.DriverID != nil {
		return nil, trip.ErrTripNotAvailable
	}
	if pre.DriverID != nil && (t.DriverID == nil || *t.DriverID != *pre.DriverID) {
		return nil, trip.ErrTripNotAvailable
	}
	if pre.Dispatching != nil && t.Dispatching != *pre.Dispatching {
		return nil, trip.ErrTripNotAvailable
	}

	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.DriverID != nil {
		t.DriverID = patch.DriverID
	}
	if patch.ClearDriver {
		t.DriverID = nil
	}
	if patch.Dispatching != nil {
		t.Dispatching = *patch.Dispatching
	}
	if patch.AcceptedAt != nil {
		t.AcceptedAt = patch.AcceptedAt
	}
	if patch.ArrivedAt != nil {
		t.ArrivedAt = patch.ArrivedAt
	}
	if patch.StartedAt != nil {
		t.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		t.EndedAt = patch.EndedAt
	}
	if patch.DispatchEndedAt != nil {
		t.DispatchEndedAt = patch.DispatchEndedAt
	}
	if patch.CancellationReason != nil {
		t.CancellationReason = patch.CancellationReason
	}
	if patch.PaymentReceived != nil {
		t.PaymentReceived = patch.PaymentReceived
	}
	if patch.MainVaultDeducted != nil {
		t.MainVaultDeducted = *patch.MainVaultDeducted
	}
	if patch.MainVaultDeductionAmount != nil {
		t.MainVaultDeductionAmount = *patch.MainVaultDeductionAmount
	}
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, nil
}

func (m *memTrips) ListRequested(_ context.Context, excluding map[string]struct{}) ([]*trip.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*trip.Trip
	for _, t := range m.trips {
		if t.Status != trip.StatusRequested || t.Dispatching {
			continue
		}
		if _, skip := excluding[t.ID]; skip {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// memCaptains holds captain profiles and their active ride counts.
type memCaptains struct {
	mu       sync.Mutex
	captains map[string]*captain.Captain
	active   map[string]int
}

func newMemCaptains() *memCaptains {
	return &memCaptains{
		captains: make(map[string]*captain.Captain),
		active:   make(map[string]int),
	}
}

func (m *memCaptains) add(c captain.Captain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captains[c.ID] = &c
}

func (m *memCaptains) ByID(_ context.Context, id string) (*captain.Captain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captains[id]
	if !ok {
		return nil, captain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCaptains) setActive(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = n
}

func (m *memCaptains) ActiveTripCount(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id], nil
}

// memLocations is an in-memory geospatial index.
type memLocations struct {
	mu        sync.Mutex
	positions map[string][2]float64 // captainID -> lat, lon
}

func newMemLocations() *memLocations {
	return &memLocations{positions: make(map[string][2]float64)}
}

func (m *memLocations) Upsert(_ context.Context, captainID string, lat, lon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[captainID] = [2]float64{lat, lon}
	return nil
}

func (m *memLocations) Radius(_ context.Context, lat, lon, km float64, limit int) ([]ports.CaptainDistance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ports.CaptainDistance
	for id, pos := range m.positions {
		d := geo.HaversineKM(lat, lon, pos[0], pos[1])
		if d <= km {
			out = append(out, ports.CaptainDistance{CaptainID: id, DistKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistKm < out[j].DistKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLocations) Position(_ context.Context, captainID string) (float64, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[captainID]
	return pos[0], pos[1], ok, nil
}

func (m *memLocations) Remove(_ context.Context, captainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, captainID)
	return nil
}

// delivered is one event pushed through the fake notifier.
type delivered struct {
	Kind    string // captain | passenger | admin
	ID      string
	Event   string
	Payload any
}

// fakeNotifier records deliveries and doubles as the presence oracle.
type fakeNotifier struct {
	mu      sync.Mutex
	online  map[string]bool
	history []delivered
	ch      chan delivered
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		online: make(map[string]bool),
		ch:     make(chan delivered, 256),
	}
}

func (f *fakeNotifier) setOnline(id string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id] = online
}

func (f *fakeNotifier) deliver(kind, id, event string, payload any) bool {
	f.mu.Lock()
	if !f.online[id] {
		f.mu.Unlock()
		return false
	}
	d := delivered{Kind: kind, ID: id, Event: event, Payload: payload}
	f.history = append(f.history, d)
	f.mu.Unlock()

	select {
	case f.ch <- d:
	default:
	}
	return true
}

func (f *fakeNotifier) NotifyCaptain(id, event string, payload any) bool {
	return f.deliver("captain", id, event, payload)
}

func (f *fakeNotifier) NotifyPassenger(id, event string, payload any) bool {
	return f.deliver("passenger", id, event, payload)
}

func (f *fakeNotifier) NotifyAdmin(id, event string, payload any) bool {
	return f.deliver("admin", id, event, payload)
}

func (f *fakeNotifier) BroadcastCaptains(event string, payload any) int {
	f.mu.Lock()
	ids := make([]string, 0, len(f.online))
	for id, on := range f.online {
		if on {
			ids = append(ids, id)
		}
	}
	f.mu.Unlock()

	n := 0
	for _, id := range ids {
		if f.deliver("captain", id, event, payload) {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) CaptainOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

func (f *fakeNotifier) PassengerOnline(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[id]
}

// waitFor blocks until an event matching the filter arrives or the timeout
// elapses. Returns the zero value on timeout.
func (f *fakeNotifier) waitFor(timeout time.Duration, match func(delivered) bool) (delivered, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case d := <-f.ch:
			if match(d) {
				return d, true
			}
		case <-deadline:
			return delivered{}, false
		}
	}
}

// countEvents returns how many recorded deliveries match.
func (f *fakeNotifier) countEvents(match func(delivered) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.history {
		if match(d) {
			n++
		}
	}
	return n
}

// fakeInterlock applies a flat 20% acceptance debit and a 15% commission
// without touching any ledger. onDebit, when set, runs at the point where the
// real interlock holds the captain's ledger row lock.
type fakeInterlock struct {
	mu         sync.Mutex
	debitErr   error
	debits     []int64
	settlement []int64
	onDebit    func()
}

func (f *fakeInterlock) DebitOnAcceptance(_ context.Context, _ string, fareAmount int64) (int64, error) {
	f.mu.Lock()
	hook := f.onDebit
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debitErr != nil {
		return 0, f.debitErr
	}
	d := fareAmount / 5
	f.debits = append(f.debits, d)
	return d, nil
}

func (f *fakeInterlock) SettleOnCompletion(_ context.Context, t *trip.Trip, received int64) (*contracts.PaymentBreakdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlement = append(f.settlement, received)

	b := &contracts.PaymentBreakdown{
		RideID:         t.ID,
		Expected:       t.Fare.Amount,
		Received:       received,
		Commission:     t.Fare.Amount * 15 / 100,
		Classification: "full",
	}
	if received < t.Fare.Amount {
		b.Classification = "partial"
	}
	return b, nil
}

// fakePublisher records bus messages.
type fakePublisher struct {
	mu       sync.Mutex
	statuses []contracts.TripStatusMessage
	pings    []contracts.LocationMessage
}

func (f *fakePublisher) PublishTripStatus(_ context.Context, msg contracts.TripStatusMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, msg)
	return nil
}

func (f *fakePublisher) PublishLocation(_ context.Context, msg contracts.LocationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, msg)
	return nil
}

func (f *fakePublisher) lastStatus() (contracts.TripStatusMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return contracts.TripStatusMessage{}, false
	}
	return f.statuses[len(f.statuses)-1], true
}

// fakeSettings keeps the config in memory.
type fakeSettings struct {
	mu    sync.Mutex
	saved *dispatch.Config
}

func (f *fakeSettings) Load(context.Context) (*dispatch.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		return dispatch.Defaults(), nil
	}
	cp := *f.saved
	return &cp, nil
}

func (f *fakeSettings) Save(_ context.Context, cfg *dispatch.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cfg
	f.saved = &cp
	return nil
}

// fakeSink records tracking pushes.
type fakeSink struct {
	mu      sync.Mutex
	pushes  []contracts.CaptainLocation
	dropped []string
}

func (f *fakeSink) Push(u contracts.CaptainLocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, u)
}

func (f *fakeSink) Drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id)
}

// testConfig is a fast-turnaround tuning for dispatcher tests. Values are
// intentionally below the production clamps; NewService takes them as-is.
func testConfig() *dispatch.Config {
	cfg := dispatch.Defaults()
	cfg.InitialRadiusKm = 1
	cfg.MaxRadiusKm = 3
	cfg.RadiusIncrementKm = 1
	cfg.NotificationTimeout = 80 * time.Millisecond
	cfg.MaxDispatchTime = 3 * time.Second
	cfg.GraceAfterMaxRadius = 0
	cfg.QueueProcessingDelay = 10 * time.Millisecond
	return cfg
}

// fixture bundles a Service with all of its fakes.
type fixture struct {
	svc       *Service
	trips     *memTrips
	captains  *memCaptains
	locations *memLocations
	notifier  *fakeNotifier
	payments  *fakeInterlock
	publisher *fakePublisher
	settings  *fakeSettings
	sink      *fakeSink
}

func newFixture(cfg *dispatch.Config) *fixture {
	f := &fixture{
		trips:     newMemTrips(),
		captains:  newMemCaptains(),
		locations: newMemLocations(),
		notifier:  newFakeNotifier(),
		payments:  &fakeInterlock{},
		publisher: &fakePublisher{},
		settings:  &fakeSettings{},
		sink:      &fakeSink{},
	}
	f.svc = NewService(
		logger.New("dispatch-test"),
		fakeUOW{},
		f.trips,
		f.captains,
		f.locations,
		f.notifier,
		f.notifier,
		f.payments,
		f.publisher,
		f.settings,
		f.sink,
		metrics.New(),
		cfg,
	)
	return f
}

// addCaptain registers an online, eligible captain at a position.
func (f *fixture) addCaptain(id string, lat, lon float64) {
	f.captains.add(captain.Captain{
		ID:            id,
		Rating:        4.8,
		WalletBalance: 10_000,
		IsActive:      true,
		IsVerified:    true,
	})
	_ = f.locations.Upsert(context.Background(), id, lat, lon)
	f.notifier.setOnline(id, true)
}

// addTrip stores a requested trip and returns it.
func (f *fixture) addTrip(id, passengerID string, fare int64) *trip.Trip {
	t := &trip.Trip{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		PassengerID: passengerID,
		Pickup:      geo.Point{Lat: 33.3152, Lon: 44.3661, Name: "pickup"},
		Dropoff:     geo.Point{Lat: 33.3406, Lon: 44.4009, Name: "dropoff"},
		DistanceKm:  4.2,
		DurationSec: 720,
		Fare:        trip.Fare{Amount: fare, Currency: "IQD"},
		Status:      trip.StatusRequested,
	}
	_ = f.trips.Create(context.Background(), t)
	f.notifier.setOnline(passengerID, true)
	return t
}
