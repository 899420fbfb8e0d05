// Package model holds the data types shared across the event pipeline and
// reactive state store: speaker/group identifiers, the closed set of UPnP
// service kinds, and the subscription/property keys derived from them.
package model

import "fmt"

// SpeakerId is an opaque identifier for a device, stable for its lifetime.
type SpeakerId string

// GroupId is an opaque identifier for a zone group.
type GroupId string

// ServiceKind is the closed set of UPnP services this module understands.
type ServiceKind string

const (
	ServiceAVTransport          ServiceKind = "AVTransport"
	ServiceRenderingControl     ServiceKind = "RenderingControl"
	ServiceGroupRenderingControl ServiceKind = "GroupRenderingControl"
	ServiceZoneGroupTopology    ServiceKind = "ZoneGroupTopology"
	ServiceGroupManagement      ServiceKind = "GroupManagement"
	ServiceDeviceProperties     ServiceKind = "DeviceProperties"
)

// EventPath returns the subscription endpoint path for a service kind.
func (s ServiceKind) EventPath() (string, bool) {
	path, ok := servicePaths[s]
	return path, ok
}

var servicePaths = map[ServiceKind]string{
	ServiceAVTransport:           "/MediaRenderer/AVTransport/Event",
	ServiceRenderingControl:      "/MediaRenderer/RenderingControl/Event",
	ServiceGroupRenderingControl: "/MediaRenderer/GroupRenderingControl/Event",
	ServiceZoneGroupTopology:     "/ZoneGroupTopology/Event",
	ServiceGroupManagement:       "/GroupManagement/Event",
}

// IsLastChangeNested reports whether this service wraps its state variables
// in a doubly-escaped LastChange document, vs. direct propertyset children.
func (s ServiceKind) IsLastChangeNested() bool {
	switch s {
	case ServiceAVTransport, ServiceRenderingControl:
		return true
	default:
		return false
	}
}

// SubscriptionKey uniquely identifies at most one active subscription.
type SubscriptionKey struct {
	Speaker SpeakerId
	Service ServiceKind
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s/%s", k.Speaker, k.Service)
}

// SubscriptionMode distinguishes a live UPnP subscription from a
// poll-synthesized one.
type SubscriptionMode string

const (
	ModeUPnP    SubscriptionMode = "upnp"
	ModePolling SubscriptionMode = "polling"
)

// PropertyKey is the static key string for a single observable property.
type PropertyKey string

const (
	PropertyPlaybackState   PropertyKey = "playback_state"
	PropertyTransportStatus PropertyKey = "transport_status"
	PropertyVolume          PropertyKey = "volume"
	PropertyMute            PropertyKey = "mute"
	PropertyTrackMetadata   PropertyKey = "track_metadata"
	PropertyPosition        PropertyKey = "position"
	PropertyGroupMembership PropertyKey = "group_membership"
	PropertyTopology        PropertyKey = "topology"
)
