package service

import (
	"sync"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/observability"
)

// MarkerSink hands out and takes back visual marker handles.
type MarkerSink interface {
	Acquire(e domain.TrackedEntity) domain.MarkerHandle
	Release(h domain.MarkerHandle)
}

// MarkerTable is the in-process MarkerSink used when no UI collaborator
// owns the handles. It only keeps track of which handles are live.
type MarkerTable struct {
	mu   sync.Mutex
	next domain.MarkerHandle
	live map[domain.MarkerHandle]string
}

func NewMarkerTable() *MarkerTable {
	return &MarkerTable{live: make(map[domain.MarkerHandle]string)}
}

func (t *MarkerTable) Acquire(e domain.TrackedEntity) domain.MarkerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.live[t.next] = e.ID
	observability.LiveMarkers.Set(float64(len(t.live)))
	return t.next
}

func (t *MarkerTable) Release(h domain.MarkerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.live, h)
	observability.LiveMarkers.Set(float64(len(t.live)))
}

// Live returns the number of handles not yet released.
func (t *MarkerTable) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// LiveFor returns the live handles owned by id.
func (t *MarkerTable) LiveFor(id string) []domain.MarkerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.MarkerHandle
	for h, owner := range t.live {
		if owner == id {
			out = append(out, h)
		}
	}
	return out
}
