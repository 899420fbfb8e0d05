// Package handles implements C11: the Speaker/Group façade applications
// use instead of touching the store, watch cache, or subscription manager
// directly. A PropertyHandle's Get is a synchronous store read; its Watch
// additionally ensures a live subscription exists, lazily and debounced,
// via C9's watch cache. Handles never own a goroutine and form no cycle
// back into the pipeline they read from.
package handles

import (
	"context"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/watchcache"
)

var log = logging.For("handles")

// Store is the narrow read surface Registry needs from C8.
type Store interface {
	Get(speaker model.SpeakerId, property model.PropertyKey) (model.PropertyValue, bool)
	Topology() model.TopologySnapshot
}

// Subscriber is the narrow surface Registry needs from C5: subscribe for a
// (speaker, service) pair, and tear it down again when the cache evicts it.
type Subscriber interface {
	Subscribe(ctx context.Context, key model.SubscriptionKey, deviceIP string) (string, error)
	Unsubscribe(ctx context.Context, key model.SubscriptionKey)
}

// Cache is the narrow surface Registry needs from C9.
type Cache interface {
	GetOrWatch(speaker model.SpeakerId, property model.PropertyKey, factory watchcache.Factory) model.PropertyValue
}

// propertyService maps an observable property to the UPnP service whose
// subscription makes that property live. GroupMembership is carried by
// ZoneGroupTopology NOTIFYs, not a per-speaker subscription at all, so it
// has no entry here; its Watch is a plain store read.
var propertyService = map[model.PropertyKey]model.ServiceKind{
	model.PropertyPlaybackState:   model.ServiceAVTransport,
	model.PropertyTransportStatus: model.ServiceAVTransport,
	model.PropertyTrackMetadata:   model.ServiceAVTransport,
	model.PropertyPosition:        model.ServiceAVTransport,
}

// Registry is the shared construction point for Speaker and Group handles.
type Registry struct {
	store Store
	cache Cache
	subs  Subscriber
}

// NewRegistry builds a Registry over the pipeline's store, watch cache, and
// subscription manager.
func NewRegistry(store Store, cache Cache, subs Subscriber) *Registry {
	return &Registry{store: store, cache: cache, subs: subs}
}

// Speaker returns a façade over one device's observable properties.
func (r *Registry) Speaker(id model.SpeakerId) *Speaker {
	return &Speaker{registry: r, id: id}
}

// Group returns a façade over one zone group's observable properties.
func (r *Registry) Group(id model.GroupId) *Group {
	return &Group{registry: r, id: id}
}

func (r *Registry) deviceIP(speaker model.SpeakerId) string {
	for _, s := range r.store.Topology().Speakers {
		if s.ID == speaker {
			return s.IP
		}
	}
	return ""
}

// property builds a PropertyHandle for (speaker, key), resolving the
// subscribing service (if any) from propertyService.
func (r *Registry) property(speaker model.SpeakerId, key model.PropertyKey) PropertyHandle {
	service, subscribable := propertyService[key]
	return PropertyHandle{
		registry:     r,
		speaker:      speaker,
		key:          key,
		service:      service,
		subscribable: subscribable,
	}
}

// PropertyHandle exposes read and watch access to a single
// (speaker, property) cell.
type PropertyHandle struct {
	registry     *Registry
	speaker      model.SpeakerId
	key          model.PropertyKey
	service      model.ServiceKind
	subscribable bool
}

// Get returns the property's current value without establishing a
// subscription; it reads only what the store already has.
func (h PropertyHandle) Get() (model.PropertyValue, bool) {
	return h.registry.store.Get(h.speaker, h.key)
}

// Watch ensures a subscription covering this property exists (lazily, via
// the watch cache debounce) and returns the current value. For properties
// with no subscribing service (e.g. group membership, carried on topology
// NOTIFYs rather than a per-property subscription), Watch behaves like Get.
func (h PropertyHandle) Watch() model.PropertyValue {
	if !h.subscribable {
		v, _ := h.Get()
		return v
	}
	return h.registry.cache.GetOrWatch(h.speaker, h.key, h.subscribeFactory())
}

func (h PropertyHandle) subscribeFactory() watchcache.Factory {
	return func() (watchcache.Handle, model.PropertyValue) {
		key := model.SubscriptionKey{Speaker: h.speaker, Service: h.service}
		ip := h.registry.deviceIP(h.speaker)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := h.registry.subs.Subscribe(ctx, key, ip); err != nil {
			log.Warnf("watch subscribe failed for %s: %v", key, err)
		}
		v, _ := h.registry.store.Get(h.speaker, h.key)
		return subscriptionHandle{subs: h.registry.subs, key: key}, v
	}
}

// subscriptionHandle adapts Subscriber.Unsubscribe to watchcache.Handle,
// released when the cache evicts a debounced entry.
type subscriptionHandle struct {
	subs Subscriber
	key  model.SubscriptionKey
}

func (h subscriptionHandle) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.subs.Unsubscribe(ctx, h.key)
}

// Speaker is the per-device façade.
type Speaker struct {
	registry *Registry
	id       model.SpeakerId
}

// ID returns the speaker's identifier.
func (s *Speaker) ID() model.SpeakerId { return s.id }

func (s *Speaker) PlaybackState() PropertyHandle   { return s.registry.property(s.id, model.PropertyPlaybackState) }
func (s *Speaker) TransportStatus() PropertyHandle { return s.registry.property(s.id, model.PropertyTransportStatus) }
func (s *Speaker) TrackMetadata() PropertyHandle   { return s.registry.property(s.id, model.PropertyTrackMetadata) }
func (s *Speaker) Position() PropertyHandle        { return s.registry.property(s.id, model.PropertyPosition) }
func (s *Speaker) Volume() PropertyHandle          { return s.registry.speakerVolume(s.id) }
func (s *Speaker) Muted() PropertyHandle           { return s.registry.speakerMute(s.id) }
func (s *Speaker) GroupMembership() PropertyHandle { return s.registry.property(s.id, model.PropertyGroupMembership) }

// Info returns the speaker's current metadata from the latest topology
// snapshot, if it is present in it.
func (s *Speaker) Info() (model.SpeakerInfo, bool) {
	for _, info := range s.registry.store.Topology().Speakers {
		if info.ID == s.id {
			return info, true
		}
	}
	return model.SpeakerInfo{}, false
}

// speakerVolume/speakerMute subscribe via RenderingControl, the
// per-speaker volume service, distinct from a Group's GroupRenderingControl.
func (r *Registry) speakerVolume(id model.SpeakerId) PropertyHandle {
	return PropertyHandle{registry: r, speaker: id, key: model.PropertyVolume, service: model.ServiceRenderingControl, subscribable: true}
}

func (r *Registry) speakerMute(id model.SpeakerId) PropertyHandle {
	return PropertyHandle{registry: r, speaker: id, key: model.PropertyMute, service: model.ServiceRenderingControl, subscribable: true}
}

// Group is the per-zone-group façade. Group-scoped properties (volume,
// mute) are addressed through the group's coordinator speaker, since that
// is the device GroupRenderingControl subscriptions are issued against.
type Group struct {
	registry *Registry
	id       model.GroupId
}

// ID returns the group's identifier.
func (g *Group) ID() model.GroupId { return g.id }

// Info returns the group's current membership from the latest topology
// snapshot, if present.
func (g *Group) Info() (model.GroupInfo, bool) {
	for _, info := range g.registry.store.Topology().Groups {
		if info.ID == g.id {
			return info, true
		}
	}
	return model.GroupInfo{}, false
}

// Volume/Muted subscribe GroupRenderingControl against the group's
// coordinator; if the group is not currently known, the returned handle
// simply has nothing to read or watch yet.
func (g *Group) Volume() PropertyHandle {
	coord, _ := g.coordinator()
	return PropertyHandle{registry: g.registry, speaker: coord, key: model.PropertyVolume, service: model.ServiceGroupRenderingControl, subscribable: true}
}

func (g *Group) Muted() PropertyHandle {
	coord, _ := g.coordinator()
	return PropertyHandle{registry: g.registry, speaker: coord, key: model.PropertyMute, service: model.ServiceGroupRenderingControl, subscribable: true}
}

// Coordinator returns the group's coordinator speaker, if the group is
// currently known.
func (g *Group) Coordinator() (model.SpeakerId, bool) {
	return g.coordinator()
}

func (g *Group) coordinator() (model.SpeakerId, bool) {
	info, ok := g.Info()
	if !ok {
		return "", false
	}
	return info.Coordinator, true
}

// Members returns the speaker handles for every member of the group,
// coordinator first, excluding satellites (they never appear in
// GroupInfo.Members).
func (g *Group) Members() []*Speaker {
	info, ok := g.Info()
	if !ok {
		return nil
	}
	out := make([]*Speaker, 0, len(info.Members))
	for _, id := range info.Members {
		out = append(out, g.registry.Speaker(id))
	}
	return out
}

// IsCoordinator reports whether id is the group's coordinator speaker.
func (g *Group) IsCoordinator(id model.SpeakerId) bool {
	coord, ok := g.coordinator()
	return ok && coord == id
}

// MemberCount returns the number of speakers in the group (0 if the group
// is not currently known).
func (g *Group) MemberCount() int {
	info, ok := g.Info()
	if !ok {
		return 0
	}
	return len(info.Members)
}

// IsStandalone reports whether the group has exactly one member, i.e. the
// coordinator is not actually grouped with any other speaker.
func (g *Group) IsStandalone() bool {
	return g.MemberCount() == 1
}
