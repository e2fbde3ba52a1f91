package domain

import "time"

const DefaultZoneRadius = 100.0

type ZoneScope string

const (
	ScopePersonal ZoneScope = "personal"
	ScopePOI      ZoneScope = "poi"
)

type ZoneType string

const (
	ZoneExclusion ZoneType = "exclusion"
	ZoneInclusion ZoneType = "inclusion"
)

// Zone is a circular geofence. Personal zones belong to one offender,
// POI zones are shared by every tracked entity.
type Zone struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Scope   ZoneScope `json:"scope"`
	OwnerID string    `json:"owner_id,omitempty"`
	Center  Position  `json:"center"`
	Radius  float64   `json:"radius"`
	Type    ZoneType  `json:"type"`
	Vital   bool      `json:"vital"`
	Active  bool      `json:"active"`

	// Category is the POI type (school, park, ...). Informational only.
	Category string `json:"category,omitempty"`
}

// EffectiveRadius returns the radius in meters, falling back to
// DefaultZoneRadius when the zone has none.
func (z Zone) EffectiveRadius() float64 {
	if z.Radius <= 0 {
		return DefaultZoneRadius
	}
	return z.Radius
}

// MustAlert reports whether a personal zone participates in breach checks.
func (z Zone) MustAlert() bool {
	return z.Type == ZoneExclusion || z.Vital
}

// Snapshot is a read-only copy of the collaborator's zone and assignment
// records at a point in time.
type Snapshot struct {
	Assignments map[string]string // device id -> offender id
	Geofences   map[string][]Zone // offender id -> personal zones
	POIs        []Zone
	FetchedAt   time.Time
}

func (s *Snapshot) PersonalZones(ownerID string) []Zone {
	if s == nil || s.Geofences == nil {
		return nil
	}
	return s.Geofences[ownerID]
}

func (s *Snapshot) GlobalZones() []Zone {
	if s == nil {
		return nil
	}
	return s.POIs
}

type AlertKind string

const (
	AlertGeofenceViolation AlertKind = "geofence_violation"
	AlertPOIProximity      AlertKind = "poi_proximity"
)

const SeverityHigh = "high"

// AlertEvent records one breach of one zone by one entity.
type AlertEvent struct {
	EntityID  string    `json:"entity_id"`
	DeviceID  string    `json:"device_id"`
	ZoneID    string    `json:"zone_id"`
	ZoneName  string    `json:"zone_name"`
	Kind      AlertKind `json:"alert_type"`
	Severity  string    `json:"severity"`
	Distance  float64   `json:"distance"`
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}
