// Package store implements C8: the (SpeakerId, PropertyKey) -> PropertyValue
// store under a single reader-writer lock, with a small system-wide section
// for the current TopologySnapshot. Decoders in the decoders subpackage
// produce PropertyUpdate closures; Apply runs them atomically and emits a
// ChangeEvent for each structural change.
package store

import (
	"sync"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// PropertyUpdate is a pure description of one mutation: a human-readable
// description (for logging), the service that produced it, and a closure
// applied under the store's write lock. Decoders build these without
// touching the lock themselves.
type PropertyUpdate struct {
	Description string
	Service     model.ServiceKind
	Speaker     model.SpeakerId
	Property    model.PropertyKey
	Apply       func(current model.PropertyValue) model.PropertyValue
}

// Store holds all observed properties plus the latest topology snapshot.
type Store struct {
	mu         sync.RWMutex
	properties map[key]model.PropertyValue
	topology   model.TopologySnapshot

	changes chan model.ChangeEvent
	now     func() time.Time
}

type key struct {
	Speaker  model.SpeakerId
	Property model.PropertyKey
}

// New creates a Store whose change channel has the given buffer capacity.
func New(changeCapacity int) *Store {
	return &Store{
		properties: make(map[key]model.PropertyValue),
		changes:    make(chan model.ChangeEvent, changeCapacity),
		now:        time.Now,
	}
}

// Changes returns the store's internal change channel. C10 (changestream)
// is the fan-out consumer of this channel; application code should
// subscribe through C10, not here directly.
func (s *Store) Changes() <-chan model.ChangeEvent { return s.changes }

// Get returns the current value for (speaker, property), if any.
func (s *Store) Get(speaker model.SpeakerId, property model.PropertyKey) (model.PropertyValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.properties[key{speaker, property}]
	return v, ok
}

// Topology returns the current system-wide topology snapshot.
func (s *Store) Topology() model.TopologySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topology
}

// Apply runs a batch of PropertyUpdates under one write-lock acquisition,
// atomic from a reader's perspective, emitting one ChangeEvent per actual
// change (old != new by structural equality).
func (s *Store) Apply(updates []PropertyUpdate) {
	s.mu.Lock()
	var produced []model.ChangeEvent
	for _, u := range updates {
		k := key{u.Speaker, u.Property}
		old := s.properties[k]
		next := u.Apply(old)
		next.UpdatedAt = s.now()
		s.properties[k] = next

		if old.Equal(next) {
			continue
		}
		produced = append(produced, model.ChangeEvent{
			Timestamp:    next.UpdatedAt,
			Kind:         model.ChangeDeviceProperty,
			Speaker:      u.Speaker,
			Service:      u.Service,
			PropertyName: u.Property,
			Rerender:     rerenderFor(u.Property, u.Speaker),
		})
	}
	s.mu.Unlock()

	for _, evt := range produced {
		s.changes <- evt
	}
}

// SetTopology replaces the system-wide topology snapshot, called by the
// pipeline with the full next-state built by decoders.TopologySnapshotFrom.
func (s *Store) SetTopology(next model.TopologySnapshot, kind model.ChangeKind) {
	s.mu.Lock()
	old := s.topology
	s.topology = next
	changed := !topologyEqual(old, next)
	s.mu.Unlock()

	if changed {
		s.changes <- model.ChangeEvent{
			Timestamp: s.now(),
			Kind:      kind,
			Rerender: model.RerenderContext{
				RequiresRerender: true,
				Scope:            model.ScopeSystem,
				Description:      "topology updated",
			},
		}
	}
}

func rerenderFor(property model.PropertyKey, speaker model.SpeakerId) model.RerenderContext {
	switch property {
	case model.PropertyGroupMembership, model.PropertyTopology:
		return model.RerenderContext{RequiresRerender: true, Scope: model.ScopeGroup, ScopeID: string(speaker), Description: string(property)}
	default:
		return model.RerenderContext{RequiresRerender: true, Scope: model.ScopeDevice, ScopeID: string(speaker), Description: string(property)}
	}
}

func topologyEqual(a, b model.TopologySnapshot) bool {
	pv := model.PropertyValue{Topology: &a}
	ov := model.PropertyValue{Topology: &b}
	return pv.Equal(ov)
}
