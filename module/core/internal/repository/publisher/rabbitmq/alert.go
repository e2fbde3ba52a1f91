package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/publisher"
)

var _ publisher.AlertPublisher = (*AlertPublisher)(nil)

const (
	ExchangeName = "tracking.events"
	QueueName    = "zone_alerts"

	publishTimeout = 5 * time.Second
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AlertPublisher struct {
	ch      channel
	timeout time.Duration
}

func NewAlertPublisher(conn *amqp.Connection) (*AlertPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := Declare(ch); err != nil {
		return nil, err
	}
	return &AlertPublisher{ch: ch, timeout: publishTimeout}, nil
}

// Declare sets up the fanout exchange and the durable alert queue bound
// to it. cmd/event_listener declares the same topology on its own.
func Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// AlertMessage is the body published for every zone breach.
type AlertMessage struct {
	OffenderID string           `json:"offender_id"`
	DeviceID   string           `json:"device_id"`
	ZoneID     string           `json:"zone_id"`
	AlertType  domain.AlertKind `json:"alert_type"`
	Severity   string           `json:"severity"`
	Message    string           `json:"message"`
	Distance   int              `json:"distance_m"`
	Location   alertLocation    `json:"location"`
	Timestamp  int64            `json:"timestamp"`
}

type alertLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewAlertMessage(alert *domain.AlertEvent) AlertMessage {
	return AlertMessage{
		OffenderID: alert.EntityID,
		DeviceID:   alert.DeviceID,
		ZoneID:     alert.ZoneID,
		AlertType:  alert.Kind,
		Severity:   alert.Severity,
		Message:    describe(alert),
		Distance:   int(alert.Distance),
		Location: alertLocation{
			Latitude:  alert.Position.Lat,
			Longitude: alert.Position.Lon,
		},
		Timestamp: alert.Timestamp.Unix(),
	}
}

func describe(alert *domain.AlertEvent) string {
	switch alert.Kind {
	case domain.AlertPOIProximity:
		return fmt.Sprintf("Offender %s is within %dm of POI: %s", alert.EntityID, int(alert.Distance), alert.ZoneName)
	default:
		return fmt.Sprintf("Offender %s entered restricted zone: %s", alert.EntityID, alert.ZoneName)
	}
}

func (p *AlertPublisher) PublishAlert(ctx context.Context, alert *domain.AlertEvent) error {
	body, err := json.Marshal(NewAlertMessage(alert))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(alert.Kind),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
