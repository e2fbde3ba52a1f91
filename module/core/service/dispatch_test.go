package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

type mockZoneSource struct {
	snapshotFn func(ctx context.Context) (*domain.Snapshot, error)
}

func (m *mockZoneSource) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	return m.snapshotFn(ctx)
}

type mockAlertPublisher struct {
	mu             sync.Mutex
	publishAlertFn func(ctx context.Context, alert *domain.AlertEvent) error
	calls          []*domain.AlertEvent
}

func (m *mockAlertPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAlertPublisher) PublishAlert(ctx context.Context, alert *domain.AlertEvent) error {
	m.mu.Lock()
	m.calls = append(m.calls, alert)
	m.mu.Unlock()
	if m.publishAlertFn != nil {
		return m.publishAlertFn(ctx, alert)
	}
	return nil
}

type mockUIPublisher struct {
	mu        sync.Mutex
	locations []domain.Event
	alerts    []*domain.AlertEvent
	forwarded []json.RawMessage

	// stalled publishes never complete until their context ends, like a
	// QoS 1 publish while the broker is unreachable.
	stalled bool
}

func (m *mockUIPublisher) wait(ctx context.Context) error {
	if !m.stalled {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockUIPublisher) PublishLocation(ctx context.Context, ev domain.Event) error {
	m.mu.Lock()
	m.locations = append(m.locations, ev)
	m.mu.Unlock()
	return m.wait(ctx)
}

func (m *mockUIPublisher) PublishAlert(ctx context.Context, alert *domain.AlertEvent) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	return m.wait(ctx)
}

func (m *mockUIPublisher) ForwardAlert(ctx context.Context, payload json.RawMessage) error {
	m.mu.Lock()
	m.forwarded = append(m.forwarded, payload)
	m.mu.Unlock()
	return m.wait(ctx)
}

func (m *mockUIPublisher) locationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locations)
}

type mockStatusStore struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (m *mockStatusStore) MarkOnline(_ context.Context, deviceID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, deviceID)
	return nil
}

func (m *mockStatusStore) MarkOffline(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, deviceID)
	return nil
}

type dispatchFixture struct {
	d        *Dispatcher
	registry *Registry
	markers  *MarkerTable
	zones    *mockZoneSource
	alerts   *mockAlertPublisher
	ui       *mockUIPublisher
	status   *mockStatusStore
}

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Assignments: map[string]string{"device-001": "offender-001"},
		Geofences: map[string][]domain.Zone{
			"offender-001": {exclusion("victim-residence", jakarta, 50)},
		},
		POIs: []domain.Zone{poi("poi-001", serpong, 2500)},
	}
}

func newDispatchFixture(t *testing.T, snap *domain.Snapshot) *dispatchFixture {
	t.Helper()
	markers := NewMarkerTable()
	f := &dispatchFixture{
		registry: NewRegistry(markers),
		markers:  markers,
		zones: &mockZoneSource{snapshotFn: func(context.Context) (*domain.Snapshot, error) {
			return snap, nil
		}},
		alerts: &mockAlertPublisher{},
		ui:     &mockUIPublisher{},
		status: &mockStatusStore{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.d = NewDispatcher(f.registry, newTestEvaluator(ModeBoth), f.zones, f.alerts, f.ui, f.status, 0, logger)
	f.d.refresh(context.Background())
	return f
}

func locationEvent(deviceID string, pos domain.Position) domain.Event {
	lat, lon := pos.Lat, pos.Lon
	return domain.Event{
		Type:     domain.EventLocationUpdate,
		DeviceID: deviceID,
		Location: &domain.WireLocation{Lat: &lat, Lon: &lon},
	}
}

func TestProcess_LocationInsideGeofence(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), locationEvent("device-001", jakarta))

	if len(f.alerts.calls) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(f.alerts.calls))
	}
	alert := f.alerts.calls[0]
	if alert.ZoneID != "victim-residence" || alert.EntityID != "offender-001" {
		t.Errorf("unexpected alert %+v", alert)
	}
	if len(f.ui.alerts) != 1 {
		t.Errorf("expected alert forwarded to ui, got %d", len(f.ui.alerts))
	}
	e, ok := f.registry.Lookup("device-001")
	if !ok || *e.Position != jakarta {
		t.Fatalf("expected registry to hold device-001 at jakarta, got %+v", e)
	}
	if e.OwnerID != "offender-001" {
		t.Errorf("expected owner offender-001, got %s", e.OwnerID)
	}
	if len(f.status.online) != 1 || f.status.online[0] != "device-001" {
		t.Errorf("expected device-001 marked online, got %v", f.status.online)
	}
	if len(f.ui.locations) != 1 {
		t.Errorf("expected location published, got %d", len(f.ui.locations))
	}
}

func TestProcess_LocationInsidePOI(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), locationEvent("device-001", serpong))

	if len(f.alerts.calls) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(f.alerts.calls))
	}
	if f.alerts.calls[0].Kind != domain.AlertPOIProximity {
		t.Errorf("expected poi_proximity, got %s", f.alerts.calls[0].Kind)
	}
}

func TestProcess_LocationOutsideZones(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), locationEvent("device-001", domain.Position{Lat: -7.0, Lon: 107.0}))

	if len(f.alerts.calls) != 0 {
		t.Fatalf("expected 0 alerts, got %d", len(f.alerts.calls))
	}
}

func TestProcess_RepeatedUpdatesInsideZoneAlertEachTime(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), locationEvent("device-001", jakarta))
	f.d.process(context.Background(), locationEvent("device-001", jakarta))

	if len(f.alerts.calls) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(f.alerts.calls))
	}
	if live := f.markers.LiveFor("device-001"); len(live) != 1 {
		t.Errorf("expected 1 live marker for device-001, got %d", len(live))
	}
}

func TestProcess_UnassignedDeviceSkipsEvaluation(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), locationEvent("device-999", serpong))

	if len(f.alerts.calls) != 0 {
		t.Fatalf("expected 0 alerts, got %d", len(f.alerts.calls))
	}
	e, ok := f.registry.Lookup("device-999")
	if !ok {
		t.Fatal("expected new device to be tracked")
	}
	if !e.Unassigned() {
		t.Errorf("expected unassigned, got %s", e.OwnerID)
	}
}

func TestProcess_InvalidLocationDropped(t *testing.T) {
	lat := -95.0
	okLat := -6.2
	lon := 106.8
	tests := []struct {
		name string
		ev   domain.Event
	}{
		{"missing location", domain.Event{Type: domain.EventLocationUpdate, DeviceID: "device-001"}},
		{"missing device", locationEvent("", jakarta)},
		{"missing lon", domain.Event{Type: domain.EventLocationUpdate, DeviceID: "device-001", Location: &domain.WireLocation{Lat: &okLat}}},
		{"lat out of range", domain.Event{Type: domain.EventLocationUpdate, DeviceID: "device-001", Location: &domain.WireLocation{Lat: &lat, Lon: &lon}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, testSnapshot())

			f.d.process(context.Background(), tt.ev)

			if got := len(f.registry.List(domain.KindDevice)); got != 0 {
				t.Errorf("expected no devices, got %d", got)
			}
			if len(f.ui.locations) != 0 {
				t.Errorf("expected nothing published, got %d", len(f.ui.locations))
			}
		})
	}
}

func TestProcess_AlertPublishErrorDoesNotStopOthers(t *testing.T) {
	snap := testSnapshot()
	snap.Geofences["offender-001"] = append(snap.Geofences["offender-001"], exclusion("second", jakarta, 100))
	f := newDispatchFixture(t, snap)
	f.alerts.publishAlertFn = func(context.Context, *domain.AlertEvent) error {
		return errors.New("rabbitmq down")
	}

	f.d.process(context.Background(), locationEvent("device-001", jakarta))

	if len(f.alerts.calls) != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", len(f.alerts.calls))
	}
	if len(f.ui.alerts) != 2 {
		t.Errorf("expected 2 ui alerts, got %d", len(f.ui.alerts))
	}
}

func TestProcess_ForwardsOpaqueAlert(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	payload := json.RawMessage(`{"id":"a1","alert_type":"tamper"}`)

	f.d.process(context.Background(), domain.Event{Type: domain.EventAlert, Alert: payload})

	if len(f.ui.forwarded) != 1 || string(f.ui.forwarded[0]) != string(payload) {
		t.Fatalf("expected payload forwarded, got %v", f.ui.forwarded)
	}
}

func TestProcess_UnknownAndErrorEventsIgnored(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), domain.Event{Type: "heartbeat"})
	f.d.process(context.Background(), domain.Event{Type: domain.EventError, Message: "Failed to connect to GPS service"})

	if len(f.alerts.calls)+len(f.ui.locations)+len(f.ui.forwarded) != 0 {
		t.Fatal("expected no side effects")
	}
}

func TestProcess_RegistrationSuccessMarksOnline(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	f.d.process(context.Background(), domain.Event{Type: domain.EventRegistrationSuccess, DeviceID: "device-002"})

	if len(f.status.online) != 1 || f.status.online[0] != "device-002" {
		t.Fatalf("expected device-002 online, got %v", f.status.online)
	}
}

func TestProcess_FeedLostMarksDevicesOffline(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	f.d.process(context.Background(), locationEvent("device-001", jakarta))
	f.d.process(context.Background(), locationEvent("device-002", jakarta))

	f.d.process(context.Background(), domain.Event{Type: eventFeedLost})

	if len(f.status.offline) != 2 {
		t.Fatalf("expected 2 devices offline, got %v", f.status.offline)
	}
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	f.zones.snapshotFn = func(context.Context) (*domain.Snapshot, error) {
		return nil, errors.New("collaborator unavailable")
	}

	f.d.refresh(context.Background())
	f.d.process(context.Background(), locationEvent("device-001", jakarta))

	if len(f.alerts.calls) != 1 {
		t.Fatalf("expected previous zones to still apply, got %d alerts", len(f.alerts.calls))
	}
}

func TestRefresh_POIDoesNotReplaceDeviceWithSameID(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	f.d.process(context.Background(), locationEvent("device-001", jakarta))

	next := testSnapshot()
	next.POIs = append(next.POIs, poi("device-001", serpong, 300))
	f.zones.snapshotFn = func(context.Context) (*domain.Snapshot, error) { return next, nil }

	f.d.refresh(context.Background())
	f.d.refresh(context.Background())

	e, ok := f.registry.Lookup("device-001")
	if !ok {
		t.Fatal("expected device-001 to survive poi refresh")
	}
	if e.Kind != domain.KindDevice || *e.Position != jakarta {
		t.Errorf("device entity changed: %+v", e)
	}
	if got := f.registry.List(domain.KindPOI); len(got) != 1 || got[0].ID != "poi-001" {
		t.Errorf("expected only poi-001 marker, got %v", got)
	}
}

func TestRefresh_SyncsPOIMarkers(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())

	if got := f.registry.List(domain.KindPOI); len(got) != 1 || got[0].ID != "poi-001" {
		t.Fatalf("expected poi-001 marker, got %v", got)
	}

	next := testSnapshot()
	hospital := poi("poi-002", jakarta, 300)
	closed := poi("poi-003", jakarta, 300)
	closed.Active = false
	next.POIs = []domain.Zone{hospital, closed}
	f.zones.snapshotFn = func(context.Context) (*domain.Snapshot, error) { return next, nil }

	f.d.refresh(context.Background())

	got := f.registry.List(domain.KindPOI)
	if len(got) != 1 || got[0].ID != "poi-002" {
		t.Fatalf("expected only poi-002 marker, got %v", got)
	}
	if live := f.markers.LiveFor("poi-001"); len(live) != 0 {
		t.Errorf("expected poi-001 marker released, got %v", live)
	}
}

func TestRun_ProcessesInArrivalOrder(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.d.Run(ctx) }()

	ids := []string{"device-001", "device-002", "device-003"}
	for _, id := range ids {
		if err := f.d.Handle(locationEvent(id, jakarta)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.ui.locationCount() < len(ids) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	f.ui.mu.Lock()
	defer f.ui.mu.Unlock()
	if len(f.ui.locations) != len(ids) {
		t.Fatalf("expected %d locations, got %d", len(ids), len(f.ui.locations))
	}
	for i, ev := range f.ui.locations {
		if ev.DeviceID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], ev.DeviceID)
		}
	}

	if err := f.d.Handle(locationEvent("device-004", jakarta)); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestClearEntities_RunsOnLoop(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	f.d.process(context.Background(), locationEvent("device-001", jakarta))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.d.Run(ctx) }()

	n, err := f.d.ClearEntities(context.Background(), domain.KindDevice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	if got := len(f.registry.List(domain.KindPOI)); got != 1 {
		t.Errorf("expected poi markers untouched, got %d", got)
	}

	cancel()
	<-errCh

	if _, err := f.d.ClearEntities(context.Background()); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("expected ErrDispatcherStopped, got %v", err)
	}
}

func TestRun_StalledUIPublisherDoesNotBlockAlerts(t *testing.T) {
	f := newDispatchFixture(t, testSnapshot())
	f.ui.stalled = true
	f.d.callTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.d.Run(ctx) }()

	if err := f.d.Handle(locationEvent("device-001", jakarta)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := f.d.Handle(locationEvent("device-001", jakarta)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.alerts.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if got := f.alerts.count(); got != 2 {
		t.Fatalf("expected 2 alerts while ui publishes stall, got %d", got)
	}
}
