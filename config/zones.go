package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ZoneSeed is a static set of assignments and zones read from YAML. It
// is used when no record store is configured and to add fixed POIs on
// top of one.
type ZoneSeed struct {
	Assignments []SeedAssignment `yaml:"assignments" validate:"dive"`
	Geofences   []SeedGeofence   `yaml:"geofences" validate:"dive"`
	POIs        []SeedPOI        `yaml:"pois" validate:"dive"`
}

type SeedAssignment struct {
	DeviceID   string `yaml:"device_id" validate:"required"`
	OffenderID string `yaml:"offender_id" validate:"required"`
}

type SeedGeofence struct {
	ID         string  `yaml:"id" validate:"required"`
	OffenderID string  `yaml:"offender_id" validate:"required"`
	Name       string  `yaml:"name"`
	Lat        float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon        float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Radius     float64 `yaml:"radius" validate:"gte=0"`
	Type       string  `yaml:"type" validate:"omitempty,oneof=exclusion inclusion"`
	Vital      bool    `yaml:"vital"`
}

type SeedPOI struct {
	ID     string  `yaml:"id" validate:"required"`
	Name   string  `yaml:"name" validate:"required"`
	Lat    float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon    float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Radius float64 `yaml:"radius" validate:"gt=0"`
	Type   string  `yaml:"poi_type"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

func (p SeedPOI) IsActive() bool {
	return p.Active == nil || *p.Active
}

// LoadZoneSeed reads and validates the seed file at path.
func LoadZoneSeed(path string) (*ZoneSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone seed: %w", err)
	}
	return ParseZoneSeed(data)
}

func ParseZoneSeed(data []byte) (*ZoneSeed, error) {
	var seed ZoneSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse zone seed: %w", err)
	}
	if err := validator.New().Struct(seed); err != nil {
		return nil, fmt.Errorf("validate zone seed: %w", err)
	}
	return &seed, nil
}
