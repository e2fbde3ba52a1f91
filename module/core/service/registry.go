package service

import (
	"sort"
	"sync"
	"time"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

// Registry maps each tracked identity to its last known position and the
// marker that represents it. Writes are expected from the dispatch loop
// only; reads may come from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	markers  MarkerSink
	entities map[string]*domain.TrackedEntity
	owners   map[string]string
	now      func() time.Time
}

func NewRegistry(markers MarkerSink) *Registry {
	return &Registry{
		markers:  markers,
		entities: make(map[string]*domain.TrackedEntity),
		owners:   make(map[string]string),
		now:      time.Now,
	}
}

// Upsert records pos for id and returns the marker that now represents it.
// Any marker previously held for id is released first. An id keeps the kind
// it was first tracked with; an upsert of another kind is refused and
// returns 0.
func (r *Registry) Upsert(id string, pos domain.Position, kind domain.EntityKind) domain.MarkerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[id]
	if !ok {
		e = &domain.TrackedEntity{ID: id, Kind: kind}
		r.entities[id] = e
	}
	if e.Kind != kind {
		return 0
	}
	if e.Marker != 0 {
		r.markers.Release(e.Marker)
		e.Marker = 0
	}

	p := pos
	e.Position = &p
	e.UpdatedAt = r.now()
	if kind == domain.KindDevice {
		e.OwnerID = r.owners[id]
	}
	e.Marker = r.markers.Acquire(*e)
	return e.Marker
}

// Remove forgets id and releases its marker. Unknown ids are ignored.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[id]
	if !ok {
		return false
	}
	r.releaseLocked(e)
	delete(r.entities, id)
	return true
}

// Clear removes every entity of the given kinds, or all entities when no
// kind is given, and returns how many were removed.
func (r *Registry) Clear(kinds ...domain.EntityKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entities {
		if !matchKind(e.Kind, kinds) {
			continue
		}
		r.releaseLocked(e)
		delete(r.entities, id)
		n++
	}
	return n
}

func (r *Registry) releaseLocked(e *domain.TrackedEntity) {
	if e.Marker != 0 {
		r.markers.Release(e.Marker)
		e.Marker = 0
	}
}

func matchKind(k domain.EntityKind, kinds []domain.EntityKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// SetAssignments replaces the device -> offender mapping.
func (r *Registry) SetAssignments(assignments map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.owners = make(map[string]string, len(assignments))
	for device, owner := range assignments {
		r.owners[device] = owner
	}
	for id, e := range r.entities {
		if e.Kind == domain.KindDevice {
			e.OwnerID = r.owners[id]
		}
	}
}

// ResolveOwner returns the offender assigned to deviceID. ok is false for
// unassigned devices.
func (r *Registry) ResolveOwner(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[deviceID]
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}

func (r *Registry) Lookup(id string) (domain.TrackedEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[id]
	if !ok {
		return domain.TrackedEntity{}, false
	}
	return copyEntity(e), true
}

// List returns a copy of every entity ordered by id.
func (r *Registry) List(kinds ...domain.EntityKind) []domain.TrackedEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TrackedEntity, 0, len(r.entities))
	for _, e := range r.entities {
		if matchKind(e.Kind, kinds) {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyEntity(e *domain.TrackedEntity) domain.TrackedEntity {
	c := *e
	if e.Position != nil {
		p := *e.Position
		c.Position = &p
	}
	return c
}
