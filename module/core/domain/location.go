package domain

import "time"

type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type EntityKind string

const (
	KindDevice EntityKind = "device"
	KindPOI    EntityKind = "poi"
)

// MarkerHandle identifies a visual marker owned by the UI collaborator.
// The zero value means "no marker".
type MarkerHandle uint64

// TrackedEntity is the registry's view of one tracked device or POI.
// Position is nil until the first location update arrives.
type TrackedEntity struct {
	ID        string       `json:"id"`
	Kind      EntityKind   `json:"kind"`
	OwnerID   string       `json:"owner_id,omitempty"`
	Position  *Position    `json:"position,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
	Marker    MarkerHandle `json:"marker"`
}

// Unassigned reports whether a device has no offender assigned to it.
func (e TrackedEntity) Unassigned() bool {
	return e.OwnerID == ""
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DeviceStatus is the last known liveness of a device.
type DeviceStatus struct {
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}
