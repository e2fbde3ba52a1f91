package subscriber

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

const topicPattern = "tracking/devices/+/register"

type commandSender interface {
	Send(cmd domain.Command) error
}

type registerMessage struct {
	DeviceType string `json:"device_type"`
	CaseID     string `json:"case_id"`
}

// RegisterSubscriber turns device registration requests published by
// operator consoles into register_device commands on the tracking feed.
type RegisterSubscriber struct {
	client mqtt.Client
	sender commandSender
	logger *slog.Logger
}

func NewRegisterSubscriber(client mqtt.Client, sender commandSender, logger *slog.Logger) *RegisterSubscriber {
	return &RegisterSubscriber{
		client: client,
		sender: sender,
		logger: logger.With("component", "register_subscriber"),
	}
}

func (s *RegisterSubscriber) Start() error {
	token := s.client.Subscribe(topicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *RegisterSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, err := deviceFromTopic(msg.Topic())
	if err != nil {
		s.logger.Warn("invalid register topic", "topic", msg.Topic(), "error", err)
		return
	}

	var raw registerMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		s.logger.Warn("invalid register message", "device_id", deviceID, "error", err)
		return
	}
	if err := validateRegisterMessage(&raw); err != nil {
		s.logger.Warn("register validation error", "device_id", deviceID, "error", err)
		return
	}

	if err := s.sender.Send(domain.NewRegisterDevice(deviceID, raw.DeviceType, raw.CaseID)); err != nil {
		s.logger.Warn("register device not sent", "device_id", deviceID, "error", err)
		return
	}
	s.logger.Info("register device sent", "device_id", deviceID, "case_id", raw.CaseID)
}

// deviceFromTopic extracts <id> from tracking/devices/<id>/register.
func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "tracking" || parts[1] != "devices" || parts[3] != "register" || parts[2] == "" {
		return "", fmt.Errorf("unexpected topic %q", topic)
	}
	return parts[2], nil
}

func validateRegisterMessage(msg *registerMessage) error {
	if msg.DeviceType == "" {
		return fmt.Errorf("device_type: required")
	}
	if msg.CaseID == "" {
		return fmt.Errorf("case_id: required")
	}
	return nil
}
