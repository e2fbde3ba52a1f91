package domain

import "encoding/json"

type EventType string

const (
	EventLocationUpdate      EventType = "location_update"
	EventAlert               EventType = "alert"
	EventRegistrationSuccess EventType = "registration_success"
	EventError               EventType = "error"
	EventRegisterDevice      EventType = "register_device"
)

// Event is an inbound frame from the tracking feed. Only the fields that
// belong to Type are populated.
type Event struct {
	Type      EventType       `json:"type"`
	DeviceID  string          `json:"device_id,omitempty"`
	Location  *WireLocation   `json:"location,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
	Alert     json.RawMessage `json:"alert,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type WireLocation struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Alt *float64 `json:"alt,omitempty"`
}

// Position converts a validated wire location.
func (l *WireLocation) Position() Position {
	return Position{Lat: *l.Lat, Lon: *l.Lon}
}

// Command is an outbound frame sent to the tracking feed.
type Command interface {
	CommandType() EventType
}

type RegisterDevice struct {
	Type       EventType `json:"type"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	CaseID     string    `json:"case_id"`
}

func NewRegisterDevice(deviceID, deviceType, caseID string) RegisterDevice {
	return RegisterDevice{
		Type:       EventRegisterDevice,
		DeviceID:   deviceID,
		DeviceType: deviceType,
		CaseID:     caseID,
	}
}

func (RegisterDevice) CommandType() EventType { return EventRegisterDevice }
