package database

import (
	"context"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

// ZoneRepository supplies the assignment and zone records the evaluator
// reads. Implementations return a fresh Snapshot on every call.
type ZoneRepository interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}
