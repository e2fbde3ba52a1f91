package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/nandanugg/tj-tracking/config"
)

const (
	exchangeName = "tracking.events"
	queueName    = "zone_alerts"
)

type alertMessage struct {
	OffenderID string `json:"offender_id"`
	DeviceID   string `json:"device_id"`
	ZoneID     string `json:"zone_id"`
	AlertType  string `json:"alert_type"`
	Message    string `json:"message"`
	Distance   int    `json:"distance_m"`
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)

	conn, err := config.NewRabbitMQ(cfg, "tracking-event-listener")
	if err != nil {
		logger.Error("rabbitmq", "error", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("rabbitmq channel", "error", err)
		os.Exit(1)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		logger.Error("declare exchange", "error", err)
		os.Exit(1)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		logger.Error("declare queue", "error", err)
		os.Exit(1)
	}
	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		logger.Error("bind queue", "error", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		logger.Error("consume", "error", err)
		os.Exit(1)
	}

	logger.Info("waiting for zone alerts", "queue", queueName)

	go func() {
		for msg := range msgs {
			var alert alertMessage
			if err := json.Unmarshal(msg.Body, &alert); err != nil {
				logger.Warn("undecodable alert", "error", err)
				continue
			}
			logger.Info(alert.Message,
				"alert_type", alert.AlertType,
				"offender_id", alert.OffenderID,
				"device_id", alert.DeviceID,
				"zone_id", alert.ZoneID,
				"distance_m", alert.Distance,
			)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
}
