package static

import (
	"context"
	"fmt"
	"time"

	"github.com/nandanugg/tj-tracking/config"
	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/database"
)

var _ database.ZoneRepository = (*ZoneRepo)(nil)

// ZoneRepo serves the zones of a seed file. When base is set the seed is
// layered on top of the base snapshot: seed assignments win, seed zones
// are appended.
type ZoneRepo struct {
	base database.ZoneRepository
	seed *domain.Snapshot
	now  func() time.Time
}

func NewZoneRepo(seed *config.ZoneSeed, base database.ZoneRepository) *ZoneRepo {
	return &ZoneRepo{base: base, seed: fromSeed(seed), now: time.Now}
}

func (r *ZoneRepo) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	out := &domain.Snapshot{
		Assignments: make(map[string]string),
		Geofences:   make(map[string][]domain.Zone),
		FetchedAt:   r.now(),
	}

	if r.base != nil {
		snap, err := r.base.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("base snapshot: %w", err)
		}
		merge(out, snap)
		out.FetchedAt = snap.FetchedAt
	}
	merge(out, r.seed)
	return out, nil
}

func merge(dst, src *domain.Snapshot) {
	if src == nil {
		return
	}
	for device, owner := range src.Assignments {
		dst.Assignments[device] = owner
	}
	for owner, zones := range src.Geofences {
		dst.Geofences[owner] = append(dst.Geofences[owner], zones...)
	}
	dst.POIs = append(dst.POIs, src.POIs...)
}

func fromSeed(seed *config.ZoneSeed) *domain.Snapshot {
	if seed == nil {
		return nil
	}

	snap := &domain.Snapshot{
		Assignments: make(map[string]string, len(seed.Assignments)),
		Geofences:   make(map[string][]domain.Zone),
	}
	for _, a := range seed.Assignments {
		snap.Assignments[a.DeviceID] = a.OffenderID
	}
	for _, g := range seed.Geofences {
		typ := domain.ZoneExclusion
		if g.Type != "" {
			typ = domain.ZoneType(g.Type)
		}
		snap.Geofences[g.OffenderID] = append(snap.Geofences[g.OffenderID], domain.Zone{
			ID:      g.ID,
			Name:    g.Name,
			Scope:   domain.ScopePersonal,
			OwnerID: g.OffenderID,
			Center:  domain.Position{Lat: g.Lat, Lon: g.Lon},
			Radius:  g.Radius,
			Type:    typ,
			Vital:   g.Vital,
		})
	}
	for _, p := range seed.POIs {
		snap.POIs = append(snap.POIs, domain.Zone{
			ID:       p.ID,
			Name:     p.Name,
			Scope:    domain.ScopePOI,
			Center:   domain.Position{Lat: p.Lat, Lon: p.Lon},
			Radius:   p.Radius,
			Active:   p.IsActive(),
			Category: p.Type,
		})
	}
	return snap
}
