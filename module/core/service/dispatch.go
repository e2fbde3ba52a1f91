package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/observability"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// eventFeedLost never comes off the wire; it is queued when the feed
// connection drops so that status updates stay on the dispatch loop.
const eventFeedLost domain.EventType = "feed_lost"

// defaultCallTimeout bounds each collaborator call made from the dispatch
// loop.
const defaultCallTimeout = 5 * time.Second

type zoneSource interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

type alertPublisher interface {
	PublishAlert(ctx context.Context, alert *domain.AlertEvent) error
}

type uiPublisher interface {
	PublishLocation(ctx context.Context, ev domain.Event) error
	PublishAlert(ctx context.Context, alert *domain.AlertEvent) error
	ForwardAlert(ctx context.Context, payload json.RawMessage) error
}

type statusStore interface {
	MarkOnline(ctx context.Context, deviceID string, at time.Time) error
	MarkOffline(ctx context.Context, deviceID string) error
}

type locationUpdate struct {
	DeviceID string               `validate:"required"`
	Location *domain.WireLocation `validate:"required"`
}

// Dispatcher is the single sequential path from decoded feed events to
// registry updates and alerts.
type Dispatcher struct {
	registry  *Registry
	evaluator *ZoneEvaluator
	zones     zoneSource
	alerts    alertPublisher
	ui        uiPublisher
	status    statusStore
	logger    *slog.Logger
	validate  *validator.Validate

	refreshEvery time.Duration
	callTimeout  time.Duration
	snapshot     *domain.Snapshot

	events  chan domain.Event
	control chan func()
	done    chan struct{}
	now     func() time.Time
}

func NewDispatcher(
	registry *Registry,
	evaluator *ZoneEvaluator,
	zones zoneSource,
	alerts alertPublisher,
	ui uiPublisher,
	status statusStore,
	refreshEvery time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:     registry,
		evaluator:    evaluator,
		zones:        zones,
		alerts:       alerts,
		ui:           ui,
		status:       status,
		logger:       logger.With("component", "dispatch"),
		validate:     validator.New(),
		refreshEvery: refreshEvery,
		callTimeout:  defaultCallTimeout,
		events:       make(chan domain.Event, 256),
		control:      make(chan func()),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Handle queues ev for the dispatch loop. It blocks while the queue is
// full so that arrival order is kept.
func (d *Dispatcher) Handle(ev domain.Event) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.events <- ev:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	}
}

// FeedLost queues an offline sweep of every known device.
func (d *Dispatcher) FeedLost() error {
	return d.Handle(domain.Event{Type: eventFeedLost})
}

// ClearEntities drops every registry entity of the given kinds (all kinds
// when none are given) from within the dispatch loop.
func (d *Dispatcher) ClearEntities(ctx context.Context, kinds ...domain.EntityKind) (int, error) {
	result := make(chan int, 1)
	op := func() { result <- d.registry.Clear(kinds...) }

	select {
	case <-d.done:
		return 0, ErrDispatcherStopped
	default:
	}
	select {
	case d.control <- op:
	case <-d.done:
		return 0, ErrDispatcherStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-result, nil
}

// Run processes queued events one at a time until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	d.refresh(ctx)

	var tick <-chan time.Time
	if d.refreshEvery > 0 {
		t := time.NewTicker(d.refreshEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.process(ctx, ev)
		case op := <-d.control:
			op()
		case <-tick:
			d.refresh(ctx)
		}
	}
}

// call runs fn with a context bounded by the collaborator timeout.
func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.callTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return fn(cctx)
}

func (d *Dispatcher) process(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventLocationUpdate:
		d.handleLocation(ctx, ev)
	case domain.EventAlert:
		if err := d.call(ctx, func(ctx context.Context) error {
			return d.ui.ForwardAlert(ctx, ev.Alert)
		}); err != nil {
			d.logger.Error("forward alert", "error", err)
		}
	case domain.EventRegistrationSuccess:
		d.logger.Info("device registered with feed", "device_id", ev.DeviceID, "message", ev.Message)
		if ev.DeviceID != "" {
			d.markOnline(ctx, ev.DeviceID)
		}
	case domain.EventError:
		d.logger.Warn("feed reported error", "message", ev.Message)
	case eventFeedLost:
		d.markAllOffline(ctx)
	default:
		d.logger.Debug("ignoring unknown event", "type", ev.Type)
	}
}

func (d *Dispatcher) handleLocation(ctx context.Context, ev domain.Event) {
	if err := d.validate.Struct(locationUpdate{DeviceID: ev.DeviceID, Location: ev.Location}); err != nil {
		d.logger.Warn("invalid location update", "device_id", ev.DeviceID, "error", err)
		return
	}
	pos := ev.Location.Position()

	if d.registry.Upsert(ev.DeviceID, pos, domain.KindDevice) == 0 {
		d.logger.Warn("device id already tracked as another kind", "device_id", ev.DeviceID)
	}

	d.markOnline(ctx, ev.DeviceID)
	if err := d.call(ctx, func(ctx context.Context) error {
		return d.ui.PublishLocation(ctx, ev)
	}); err != nil {
		d.logger.Error("publish location", "device_id", ev.DeviceID, "error", err)
	}

	owner, ok := d.registry.ResolveOwner(ev.DeviceID)
	if !ok {
		d.logger.Debug("unassigned device, skipping zone evaluation", "device_id", ev.DeviceID)
		return
	}

	target := Target{EntityID: owner, DeviceID: ev.DeviceID, Position: pos}
	alerts := d.evaluator.Evaluate(target, d.snapshot.PersonalZones(owner), d.snapshot.GlobalZones())
	for i := range alerts {
		d.emit(ctx, &alerts[i])
	}
}

func (d *Dispatcher) emit(ctx context.Context, alert *domain.AlertEvent) {
	observability.AlertsEmitted.WithLabelValues(string(alert.Kind)).Inc()
	d.logger.Info("zone breached",
		"entity_id", alert.EntityID,
		"device_id", alert.DeviceID,
		"zone_id", alert.ZoneID,
		"kind", alert.Kind,
		"distance_m", int(alert.Distance),
	)

	if err := d.call(ctx, func(ctx context.Context) error {
		return d.alerts.PublishAlert(ctx, alert)
	}); err != nil {
		d.logger.Error("publish alert", "zone_id", alert.ZoneID, "error", err)
	}
	if err := d.call(ctx, func(ctx context.Context) error {
		return d.ui.PublishAlert(ctx, alert)
	}); err != nil {
		d.logger.Error("publish alert to ui", "zone_id", alert.ZoneID, "error", err)
	}
}

func (d *Dispatcher) markOnline(ctx context.Context, deviceID string) {
	if err := d.call(ctx, func(ctx context.Context) error {
		return d.status.MarkOnline(ctx, deviceID, d.now())
	}); err != nil {
		d.logger.Error("mark device online", "device_id", deviceID, "error", err)
	}
}

func (d *Dispatcher) markAllOffline(ctx context.Context) {
	for _, e := range d.registry.List(domain.KindDevice) {
		if err := d.call(ctx, func(ctx context.Context) error {
			return d.status.MarkOffline(ctx, e.ID)
		}); err != nil {
			d.logger.Error("mark device offline", "device_id", e.ID, "error", err)
		}
	}
}

// refresh reloads the zone snapshot. On failure the previous snapshot
// stays in use.
func (d *Dispatcher) refresh(ctx context.Context) {
	var snap *domain.Snapshot
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		snap, err = d.zones.Snapshot(ctx)
		return err
	})
	if err != nil {
		observability.SnapshotRefreshErrors.Inc()
		d.logger.Error("refresh zone snapshot", "error", fmt.Errorf("snapshot: %w", err))
		return
	}

	d.snapshot = snap
	d.registry.SetAssignments(snap.Assignments)

	d.registry.Clear(domain.KindPOI)
	for _, poi := range snap.POIs {
		if !poi.Active {
			continue
		}
		if d.registry.Upsert(poi.ID, poi.Center, domain.KindPOI) == 0 {
			d.logger.Warn("poi id already tracked as another kind", "poi_id", poi.ID)
		}
	}

	d.logger.Debug("zone snapshot refreshed",
		"assignments", len(snap.Assignments),
		"geofenced_offenders", len(snap.Geofences),
		"pois", len(snap.POIs),
	)
}
