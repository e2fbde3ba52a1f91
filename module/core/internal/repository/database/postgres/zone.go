package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/database"
)

var _ database.ZoneRepository = (*ZoneRepo)(nil)

type ZoneRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewZoneRepo(db *sql.DB) *ZoneRepo {
	return &ZoneRepo{db: db, now: time.Now}
}

func (r *ZoneRepo) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	assignments, err := r.assignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	geofences, err := r.geofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geofences: %w", err)
	}
	pois, err := r.pois(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pois: %w", err)
	}

	return &domain.Snapshot{
		Assignments: assignments,
		Geofences:   geofences,
		POIs:        pois,
		FetchedAt:   r.now(),
	}, nil
}

func (r *ZoneRepo) assignments(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id FROM offenders WHERE device_id IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var offenderID, deviceID string
		if err := rows.Scan(&offenderID, &deviceID); err != nil {
			return nil, err
		}
		out[deviceID] = offenderID
	}
	return out, rows.Err()
}

func (r *ZoneRepo) geofences(ctx context.Context) (map[string][]domain.Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, offender_id, name, latitude, longitude, radius, zone_type, vital FROM geofence_zones ORDER BY offender_id, id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]domain.Zone)
	for rows.Next() {
		var (
			z      domain.Zone
			radius sql.NullFloat64
			typ    sql.NullString
		)
		if err := rows.Scan(&z.ID, &z.OwnerID, &z.Name, &z.Center.Lat, &z.Center.Lon, &radius, &typ, &z.Vital); err != nil {
			return nil, err
		}
		z.Scope = domain.ScopePersonal
		z.Radius = radius.Float64
		z.Type = domain.ZoneExclusion
		if typ.Valid && typ.String != "" {
			z.Type = domain.ZoneType(typ.String)
		}
		out[z.OwnerID] = append(out[z.OwnerID], z)
	}
	return out, rows.Err()
}

func (r *ZoneRepo) pois(ctx context.Context) ([]domain.Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, latitude, longitude, radius, poi_type, is_active FROM pois ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Zone
	for rows.Next() {
		var (
			z       domain.Zone
			poiType sql.NullString
		)
		if err := rows.Scan(&z.ID, &z.Name, &z.Center.Lat, &z.Center.Lon, &z.Radius, &poiType, &z.Active); err != nil {
			return nil, err
		}
		z.Scope = domain.ScopePOI
		z.Category = poiType.String
		out = append(out, z)
	}
	return out, rows.Err()
}
