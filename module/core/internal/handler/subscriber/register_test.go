package subscriber

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

type mockSender struct {
	sendFn func(cmd domain.Command) error
}

func (m *mockSender) Send(cmd domain.Command) error {
	return m.sendFn(cmd)
}

type fakeMQTTMessage struct {
	topic   string
	payload []byte
}

func (f *fakeMQTTMessage) Duplicate() bool   { return false }
func (f *fakeMQTTMessage) Qos() byte         { return 0 }
func (f *fakeMQTTMessage) Retained() bool    { return false }
func (f *fakeMQTTMessage) Topic() string     { return f.topic }
func (f *fakeMQTTMessage) MessageID() uint16 { return 0 }
func (f *fakeMQTTMessage) Payload() []byte   { return f.payload }
func (f *fakeMQTTMessage) Ack()              {}

func newTestSubscriber(sender commandSender) *RegisterSubscriber {
	return NewRegisterSubscriber(nil, sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleMessage_Success(t *testing.T) {
	var sent domain.Command
	sub := newTestSubscriber(&mockSender{
		sendFn: func(cmd domain.Command) error {
			sent = cmd
			return nil
		},
	})

	sub.handleMessage(nil, &fakeMQTTMessage{
		topic:   "tracking/devices/device-001/register",
		payload: []byte(`{"device_type":"ankle_monitor","case_id":"case-2024-001"}`),
	})

	if sent == nil {
		t.Fatal("expected Send to be called")
	}
	reg, ok := sent.(domain.RegisterDevice)
	if !ok {
		t.Fatalf("expected RegisterDevice, got %T", sent)
	}
	if reg.Type != domain.EventRegisterDevice || reg.DeviceID != "device-001" {
		t.Errorf("unexpected command %+v", reg)
	}
	if reg.DeviceType != "ankle_monitor" || reg.CaseID != "case-2024-001" {
		t.Errorf("unexpected command %+v", reg)
	}
}

func TestHandleMessage_InvalidJSON(t *testing.T) {
	sub := newTestSubscriber(&mockSender{
		sendFn: func(domain.Command) error {
			t.Fatal("Send should not be called")
			return nil
		},
	})
	sub.handleMessage(nil, &fakeMQTTMessage{topic: "tracking/devices/device-001/register", payload: []byte("invalid")})
}

func TestHandleMessage_BadTopic(t *testing.T) {
	sub := newTestSubscriber(&mockSender{
		sendFn: func(domain.Command) error {
			t.Fatal("Send should not be called")
			return nil
		},
	})
	sub.handleMessage(nil, &fakeMQTTMessage{
		topic:   "tracking/devices//register",
		payload: []byte(`{"device_type":"ankle_monitor","case_id":"case-2024-001"}`),
	})
}

func TestHandleMessage_SendErrorIsLogged(t *testing.T) {
	calls := 0
	sub := newTestSubscriber(&mockSender{
		sendFn: func(domain.Command) error {
			calls++
			return errors.New("conn: not connected")
		},
	})
	sub.handleMessage(nil, &fakeMQTTMessage{
		topic:   "tracking/devices/device-001/register",
		payload: []byte(`{"device_type":"ankle_monitor","case_id":"case-2024-001"}`),
	})
	if calls != 1 {
		t.Errorf("expected 1 send attempt, got %d", calls)
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"tracking/devices/device-001/register", "device-001", false},
		{"tracking/devices/device-001/location", "", true},
		{"tracking/devices/register", "", true},
		{"other/devices/device-001/register", "", true},
	}
	for _, tt := range tests {
		got, err := deviceFromTopic(tt.topic)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("deviceFromTopic(%q) = %q, %v", tt.topic, got, err)
		}
	}
}

func TestValidateRegisterMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     registerMessage
		wantErr bool
	}{
		{"valid", registerMessage{DeviceType: "ankle_monitor", CaseID: "c"}, false},
		{"missing device_type", registerMessage{CaseID: "c"}, true},
		{"missing case_id", registerMessage{DeviceType: "ankle_monitor"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRegisterMessage(&tt.msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRegisterMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
