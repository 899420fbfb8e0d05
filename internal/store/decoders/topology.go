package decoders

import (
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/store"
)

// decodeZoneGroupTopology is the special-case decoder that can add or
// remove speakers and groups wholesale. It emits a GroupMembership
// PropertyUpdate per speaker named in the new topology (including vanished
// ones, whose membership is cleared) and leaves snapshot replacement to
// TopologySnapshotFrom + Store.SetTopology, called by the wiring layer
// alongside this batch so both land under one logical update.
func decodeZoneGroupTopology(evt model.TypedEvent, current model.TopologySnapshot) []store.PropertyUpdate {
	if evt.ZoneGroupTopology == nil {
		return nil
	}
	rec := evt.ZoneGroupTopology

	// coordinatorOf / memberOf: every speaker named in a group gets an
	// update; satellites never appear here because the topology parser
	// never places a satellite UUID into a GroupInfo.Members list.
	groupByMember := make(map[model.SpeakerId]model.GroupInfo)
	for _, g := range rec.Groups {
		for _, m := range g.Members {
			groupByMember[m] = g
		}
	}

	var updates []store.PropertyUpdate
	for speaker, group := range groupByMember {
		speaker, group := speaker, group
		isCoord := group.Coordinator == speaker
		updates = append(updates, store.PropertyUpdate{
			Description: "group membership",
			Service:     evt.Service,
			Speaker:     speaker,
			Property:    model.PropertyGroupMembership,
			Apply: func(model.PropertyValue) model.PropertyValue {
				gm := model.GroupMembership{Group: group.ID, HasGroup: true, IsCoordinator: isCoord}
				return model.PropertyValue{Group: &gm}
			},
		})
	}

	for _, vanished := range rec.Vanished {
		vanished := vanished
		updates = append(updates, store.PropertyUpdate{
			Description: "speaker vanished",
			Service:     evt.Service,
			Speaker:     vanished,
			Property:    model.PropertyGroupMembership,
			Apply: func(model.PropertyValue) model.PropertyValue {
				gm := model.GroupMembership{}
				return model.PropertyValue{Group: &gm}
			},
		})
	}

	// A speaker that was a member of a group in `current` but appears in
	// neither groupByMember nor a fresh GroupInfo here has effectively
	// moved or left; clear its membership the same way a vanish does so
	// S5's "SPK2's previous group G2 removed" holds without requiring
	// SPK2 to be listed as vanished.
	for _, g := range current.Groups {
		for _, m := range g.Members {
			if _, stillPresent := groupByMember[m]; stillPresent {
				continue
			}
			if containsSpeaker(rec.Vanished, m) {
				continue
			}
			m := m
			updates = append(updates, store.PropertyUpdate{
				Description: "group membership cleared (regrouped)",
				Service:     evt.Service,
				Speaker:     m,
				Property:    model.PropertyGroupMembership,
				Apply: func(model.PropertyValue) model.PropertyValue {
					gm := model.GroupMembership{}
					return model.PropertyValue{Group: &gm}
				},
			})
		}
	}

	return updates
}

func containsSpeaker(list []model.SpeakerId, id model.SpeakerId) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}

// TopologySnapshotFrom builds the full next TopologySnapshot from a parsed
// ZoneGroupTopologyRecord, for Store.SetTopology.
func TopologySnapshotFrom(rec *model.ZoneGroupTopologyRecord) model.TopologySnapshot {
	if rec == nil {
		return model.TopologySnapshot{}
	}
	return model.TopologySnapshot{
		Speakers: rec.Speakers,
		Groups:   rec.Groups,
	}
}
