package model

import "time"

// EventSourceKind discriminates why a TypedEvent exists.
type EventSourceKind string

const (
	SourceUPnPNotification EventSourceKind = "upnp_notification"
	SourcePollingDetection  EventSourceKind = "polling_detection"
	SourceResync            EventSourceKind = "resync"
)

// EventSource carries observability context for a TypedEvent.
type EventSource struct {
	Kind EventSourceKind

	// SID is set when Kind == SourceUPnPNotification.
	SID string
	// SEQ is the GENA sequence number, when present on the NOTIFY (0 if absent).
	SEQ int

	// Interval is set when Kind == SourcePollingDetection.
	Interval time.Duration

	// Reason is set when Kind == SourceResync.
	Reason string
}

// RawEvent is the unparsed NOTIFY payload, consumed by C2 and discarded.
type RawEvent struct {
	SID     string
	Speaker SpeakerId
	Service ServiceKind
	Body    []byte
	Source  EventSource
}

// AVTransportRecord is the typed AVTransport event payload.
type AVTransportRecord struct {
	TransportState  string
	TransportStatus string
	Track           TrackMetadata
	TrackDurationMs int64
	RelTimeMs       int64
}

// RenderingControlRecord is the typed RenderingControl event payload.
type RenderingControlRecord struct {
	Volume     *int
	Muted      *bool
}

// GroupRenderingControlRecord mirrors RenderingControlRecord for group volume.
type GroupRenderingControlRecord struct {
	Volume *int
	Muted  *bool
}

// ZoneGroupTopologyRecord is the decoded topology document.
type ZoneGroupTopologyRecord struct {
	Groups   []GroupInfo
	Speakers []SpeakerInfo
	Vanished []SpeakerId
}

// GroupManagementRecord carries group-management state variables.
type GroupManagementRecord struct {
	LocalGroupUUID string
	IsCoordinator  *bool
}

// DevicePropertiesRecord carries device-properties state variables.
type DevicePropertiesRecord struct {
	ZoneName string
	Icon     string
}

// TypedEvent is the service-discriminated union emitted by C7. Exactly one
// of the per-service fields is non-nil, matching Service.
type TypedEvent struct {
	Speaker SpeakerId
	Service ServiceKind
	Source  EventSource

	AVTransport          *AVTransportRecord
	RenderingControl     *RenderingControlRecord
	GroupRenderingControl *GroupRenderingControlRecord
	ZoneGroupTopology    *ZoneGroupTopologyRecord
	GroupManagement      *GroupManagementRecord
	DeviceProperties     *DevicePropertiesRecord
}

// ChangeKind discriminates the cause of a ChangeEvent.
type ChangeKind string

const (
	ChangeDeviceProperty ChangeKind = "device_property"
	ChangeSpeakerAdded   ChangeKind = "speaker_added"
	ChangeSpeakerRemoved ChangeKind = "speaker_removed"
	ChangeGroupsChanged  ChangeKind = "groups_changed"
	ChangeSystemInit     ChangeKind = "system_initialized"
)

// RerenderScope is the granularity at which a consumer should recompute UI.
type RerenderScope string

const (
	ScopeDevice RerenderScope = "device"
	ScopeGroup  RerenderScope = "group"
	ScopeSystem RerenderScope = "system"
	ScopeFull   RerenderScope = "full"
)

// RerenderContext tells a consumer whether and how broadly to rerender.
type RerenderContext struct {
	RequiresRerender bool
	Scope            RerenderScope
	ScopeID          string // speaker or group id when Scope is Device/Group
	Description      string
}

// ChangeEvent is produced by C8 for every successful PropertyUpdate and
// multicast on the global change stream (C10).
type ChangeEvent struct {
	Timestamp time.Time
	Kind      ChangeKind

	Speaker      SpeakerId
	Service      ServiceKind
	PropertyName PropertyKey

	Rerender RerenderContext
}
