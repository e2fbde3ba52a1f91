package service

import (
	"fmt"
	"time"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

// ZoneMode selects which zone sets take part in breach evaluation.
type ZoneMode uint8

const (
	ModePersonal ZoneMode = 1 << iota
	ModePOI

	ModeBoth = ModePersonal | ModePOI
)

func ParseZoneMode(s string) (ZoneMode, error) {
	switch s {
	case "personal":
		return ModePersonal, nil
	case "poi":
		return ModePOI, nil
	case "both", "":
		return ModeBoth, nil
	}
	return 0, fmt.Errorf("zone mode %q: must be personal, poi or both", s)
}

func (m ZoneMode) String() string {
	switch m {
	case ModePersonal:
		return "personal"
	case ModePOI:
		return "poi"
	case ModeBoth:
		return "both"
	}
	return fmt.Sprintf("ZoneMode(%d)", uint8(m))
}

// Target is the entity that just moved.
type Target struct {
	EntityID string
	DeviceID string
	Position domain.Position
}

// ZoneEvaluator decides which zones a single location update breaches.
// It keeps no state between calls: an entity that stays inside a zone
// breaches it again on every update.
type ZoneEvaluator struct {
	mode ZoneMode
	now  func() time.Time
}

func NewZoneEvaluator(mode ZoneMode) *ZoneEvaluator {
	return &ZoneEvaluator{mode: mode, now: time.Now}
}

func (e *ZoneEvaluator) Mode() ZoneMode {
	return e.mode
}

func (e *ZoneEvaluator) Evaluate(target Target, personal, pois []domain.Zone) []domain.AlertEvent {
	var alerts []domain.AlertEvent
	ts := e.now()

	if e.mode&ModePersonal != 0 {
		for _, z := range personal {
			if !z.MustAlert() {
				continue
			}
			if dist, ok := breach(target.Position, z); ok {
				alerts = append(alerts, newAlert(target, z, domain.AlertGeofenceViolation, dist, ts))
			}
		}
	}

	if e.mode&ModePOI != 0 {
		for _, z := range pois {
			if !z.Active {
				continue
			}
			if dist, ok := breach(target.Position, z); ok {
				alerts = append(alerts, newAlert(target, z, domain.AlertPOIProximity, dist, ts))
			}
		}
	}

	return alerts
}

func breach(pos domain.Position, z domain.Zone) (float64, bool) {
	dist := Distance(pos, z.Center)
	return dist, dist < z.EffectiveRadius()
}

func newAlert(target Target, z domain.Zone, kind domain.AlertKind, dist float64, ts time.Time) domain.AlertEvent {
	return domain.AlertEvent{
		EntityID:  target.EntityID,
		DeviceID:  target.DeviceID,
		ZoneID:    z.ID,
		ZoneName:  z.Name,
		Kind:      kind,
		Severity:  domain.SeverityHigh,
		Distance:  dist,
		Position:  target.Position,
		Timestamp: ts,
	}
}
