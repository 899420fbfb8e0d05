// Package decoders implements the per-ServiceKind decoders of C8: pure
// functions from a TypedEvent (plus, for topology, the store's current
// snapshot) to a list of store.PropertyUpdate closures. Decoders never
// touch the store's lock; the caller (the broker-to-store glue in
// internal/pipeline) applies the batch atomically via store.Apply.
package decoders

import (
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/store"
)

// Decode dispatches a TypedEvent to its ServiceKind decoder. currentTopology
// is only consulted by the ZoneGroupTopology decoder, which needs the prior
// snapshot to compute removals and coordinator changes.
func Decode(evt model.TypedEvent, currentTopology model.TopologySnapshot) []store.PropertyUpdate {
	switch evt.Service {
	case model.ServiceAVTransport:
		return decodeAVTransport(evt)
	case model.ServiceRenderingControl:
		return decodeRenderingControl(evt)
	case model.ServiceGroupRenderingControl:
		return decodeGroupRenderingControl(evt)
	case model.ServiceZoneGroupTopology:
		return decodeZoneGroupTopology(evt, currentTopology)
	case model.ServiceGroupManagement:
		return decodeGroupManagement(evt)
	case model.ServiceDeviceProperties:
		return nil // zone name / icon are metadata, not observable properties
	default:
		return nil
	}
}

func decodeAVTransport(evt model.TypedEvent) []store.PropertyUpdate {
	if evt.AVTransport == nil {
		return nil
	}
	rec := evt.AVTransport
	var updates []store.PropertyUpdate

	if rec.TransportState != "" {
		state := playbackStateFrom(rec.TransportState)
		updates = append(updates, store.PropertyUpdate{
			Description: "transport state",
			Service:     evt.Service,
			Speaker:     evt.Speaker,
			Property:    model.PropertyPlaybackState,
			Apply: func(model.PropertyValue) model.PropertyValue {
				s := string(state)
				return model.PropertyValue{Enum: &s}
			},
		})
	}
	if rec.TransportStatus != "" {
		status := rec.TransportStatus
		updates = append(updates, store.PropertyUpdate{
			Description: "transport status",
			Service:     evt.Service,
			Speaker:     evt.Speaker,
			Property:    model.PropertyTransportStatus,
			Apply: func(model.PropertyValue) model.PropertyValue {
				return model.PropertyValue{Enum: &status}
			},
		})
	}

	track := rec.Track
	updates = append(updates, store.PropertyUpdate{
		Description: "track metadata",
		Service:     evt.Service,
		Speaker:     evt.Speaker,
		Property:    model.PropertyTrackMetadata,
		Apply: func(model.PropertyValue) model.PropertyValue {
			return model.PropertyValue{Track: &track}
		},
	})

	updates = append(updates, store.PropertyUpdate{
		Description: "playback position",
		Service:     evt.Service,
		Speaker:     evt.Speaker,
		Property:    model.PropertyPosition,
		Apply: func(current model.PropertyValue) model.PropertyValue {
			next := model.Position{ElapsedMs: rec.RelTimeMs, DurationMs: rec.TrackDurationMs}
			// Suppress per-second churn: only treat this as a change worth
			// emitting when the jump exceeds 1s or duration itself changed.
			// Equal() already ignores sub-threshold diffs because we clamp
			// the position we actually store to the prior value when the
			// jump is small.
			if current.Pos != nil {
				elapsedDelta := next.ElapsedMs - current.Pos.ElapsedMs
				if elapsedDelta < 0 {
					elapsedDelta = -elapsedDelta
				}
				if elapsedDelta <= 1000 && next.DurationMs == current.Pos.DurationMs {
					return current
				}
			}
			return model.PropertyValue{Pos: &next}
		},
	})

	return updates
}

func playbackStateFrom(transportState string) model.PlaybackState {
	switch transportState {
	case "PLAYING":
		return model.PlaybackPlaying
	case "PAUSED_PLAYBACK":
		return model.PlaybackPaused
	case "TRANSITIONING":
		return model.PlaybackTransitioning
	default:
		return model.PlaybackStopped
	}
}

func decodeRenderingControl(evt model.TypedEvent) []store.PropertyUpdate {
	if evt.RenderingControl == nil {
		return nil
	}
	return volumeMuteUpdates(evt.Service, evt.Speaker, evt.RenderingControl.Volume, evt.RenderingControl.Muted)
}

func decodeGroupRenderingControl(evt model.TypedEvent) []store.PropertyUpdate {
	if evt.GroupRenderingControl == nil {
		return nil
	}
	return volumeMuteUpdates(evt.Service, evt.Speaker, evt.GroupRenderingControl.Volume, evt.GroupRenderingControl.Muted)
}

func volumeMuteUpdates(service model.ServiceKind, speaker model.SpeakerId, volume *int, muted *bool) []store.PropertyUpdate {
	var updates []store.PropertyUpdate
	if volume != nil {
		v := *volume
		if v < 0 || v > 100 {
			// Boundary behavior: an out-of-range Volume update is rejected
			// by property validation; no PropertyUpdate (and thus no
			// ChangeEvent) is produced for it.
		} else {
			updates = append(updates, store.PropertyUpdate{
				Description: "volume",
				Service:     service,
				Speaker:     speaker,
				Property:    model.PropertyVolume,
				Apply: func(model.PropertyValue) model.PropertyValue {
					return model.PropertyValue{Numeric: &v}
				},
			})
		}
	}
	if muted != nil {
		m := *muted
		updates = append(updates, store.PropertyUpdate{
			Description: "mute",
			Service:     service,
			Speaker:     speaker,
			Property:    model.PropertyMute,
			Apply: func(model.PropertyValue) model.PropertyValue {
				return model.PropertyValue{Boolean: &m}
			},
		})
	}
	return updates
}

func decodeGroupManagement(evt model.TypedEvent) []store.PropertyUpdate {
	if evt.GroupManagement == nil || evt.GroupManagement.IsCoordinator == nil {
		return nil
	}
	isCoord := *evt.GroupManagement.IsCoordinator
	return []store.PropertyUpdate{{
		Description: "group coordinator flag",
		Service:     evt.Service,
		Speaker:     evt.Speaker,
		Property:    model.PropertyGroupMembership,
		Apply: func(current model.PropertyValue) model.PropertyValue {
			gm := model.GroupMembership{IsCoordinator: isCoord}
			if current.Group != nil {
				gm.Group = current.Group.Group
				gm.HasGroup = current.Group.HasGroup
			}
			return model.PropertyValue{Group: &gm}
		},
	}}
}
