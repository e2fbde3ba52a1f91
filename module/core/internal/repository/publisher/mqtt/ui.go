package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/publisher"
)

var _ publisher.UIPublisher = (*UIPublisher)(nil)

const (
	locationTopic   = "tracking/devices/%s/location"
	AlertTopic      = "tracking/alerts"
	FeedStatusTopic = "tracking/feed/status"

	// publishTimeout applies when the caller's context has no deadline.
	// With a persistent session paho holds QoS 1 tokens open while it
	// reconnects.
	publishTimeout = 5 * time.Second
)

type uiMessage struct {
	Type  domain.EventType `json:"type"`
	Alert any              `json:"alert"`
}

// UIPublisher pushes positions, alerts and feed status to the broker that
// operator consoles subscribe to.
type UIPublisher struct {
	client  paho.Client
	qos     byte
	timeout time.Duration
}

func NewUIPublisher(client paho.Client) *UIPublisher {
	return &UIPublisher{client: client, qos: 1, timeout: publishTimeout}
}

func LocationTopic(deviceID string) string {
	return fmt.Sprintf(locationTopic, deviceID)
}

func (p *UIPublisher) PublishLocation(ctx context.Context, ev domain.Event) error {
	return p.publish(ctx, LocationTopic(ev.DeviceID), false, ev)
}

func (p *UIPublisher) PublishAlert(ctx context.Context, alert *domain.AlertEvent) error {
	return p.publish(ctx, AlertTopic, false, uiMessage{Type: domain.EventAlert, Alert: alert})
}

// ForwardAlert republishes an alert produced upstream without looking
// inside it.
func (p *UIPublisher) ForwardAlert(ctx context.Context, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return p.publish(ctx, AlertTopic, false, uiMessage{Type: domain.EventAlert, Alert: payload})
}

// PublishFeedStatus is retained so late subscribers see the last state.
func (p *UIPublisher) PublishFeedStatus(ctx context.Context, status publisher.FeedStatus) error {
	return p.publish(ctx, FeedStatusTopic, true, status)
}

func (p *UIPublisher) publish(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	token := p.client.Publish(topic, p.qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
