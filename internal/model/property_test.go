package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intp(n int) *int       { return &n }
func boolp(b bool) *bool    { return &b }
func strp(s string) *string { return &s }

func TestPropertyValueEqualIgnoresUpdatedAt(t *testing.T) {
	a := PropertyValue{Numeric: intp(50), UpdatedAt: time.Now()}
	b := PropertyValue{Numeric: intp(50), UpdatedAt: time.Now().Add(time.Hour)}
	require.True(t, a.Equal(b))
}

func TestPropertyValueEqualDetectsChange(t *testing.T) {
	a := PropertyValue{Numeric: intp(50)}
	b := PropertyValue{Numeric: intp(51)}
	require.False(t, a.Equal(b))
}

func TestPropertyValueEqualNilVsSet(t *testing.T) {
	a := PropertyValue{Boolean: nil}
	b := PropertyValue{Boolean: boolp(false)}
	require.False(t, a.Equal(b))
	require.False(t, b.Equal(a))
}

func TestPropertyValueEqualTrack(t *testing.T) {
	track := TrackMetadata{Title: "Song", Artist: "Artist"}
	a := PropertyValue{Track: &track}
	b := PropertyValue{Track: &TrackMetadata{Title: "Song", Artist: "Artist"}}
	require.True(t, a.Equal(b))

	c := PropertyValue{Track: &TrackMetadata{Title: "Other"}}
	require.False(t, a.Equal(c))
}

func TestPropertyValueEqualEnum(t *testing.T) {
	a := PropertyValue{Enum: strp("PLAYING")}
	b := PropertyValue{Enum: strp("PLAYING")}
	require.True(t, a.Equal(b))

	c := PropertyValue{Enum: strp("PAUSED_PLAYBACK")}
	require.False(t, a.Equal(c))
}

func TestPropertyValueEqualTopology(t *testing.T) {
	a := PropertyValue{Topology: &TopologySnapshot{
		Speakers: []SpeakerInfo{{ID: "RINCON_1", Name: "Living Room"}},
		Groups:   []GroupInfo{{ID: "G1", Coordinator: "RINCON_1", Members: []SpeakerId{"RINCON_1"}}},
	}}
	b := PropertyValue{Topology: &TopologySnapshot{
		Speakers: []SpeakerInfo{{ID: "RINCON_1", Name: "Living Room"}},
		Groups:   []GroupInfo{{ID: "G1", Coordinator: "RINCON_1", Members: []SpeakerId{"RINCON_1"}}},
	}}
	require.True(t, a.Equal(b))

	c := PropertyValue{Topology: &TopologySnapshot{
		Speakers: []SpeakerInfo{{ID: "RINCON_1", Name: "Kitchen"}},
		Groups:   []GroupInfo{{ID: "G1", Coordinator: "RINCON_1", Members: []SpeakerId{"RINCON_1"}}},
	}}
	require.False(t, a.Equal(c))
}

func TestSubscriptionKeyString(t *testing.T) {
	k := SubscriptionKey{Speaker: "RINCON_1", Service: ServiceAVTransport}
	require.Equal(t, "RINCON_1/AVTransport", k.String())
}

func TestServiceKindEventPath(t *testing.T) {
	path, ok := ServiceAVTransport.EventPath()
	require.True(t, ok)
	require.Equal(t, "/MediaRenderer/AVTransport/Event", path)

	_, ok = ServiceKind("Bogus").EventPath()
	require.False(t, ok)
}

func TestServiceKindIsLastChangeNested(t *testing.T) {
	require.True(t, ServiceAVTransport.IsLastChangeNested())
	require.True(t, ServiceRenderingControl.IsLastChangeNested())
	require.False(t, ServiceZoneGroupTopology.IsLastChangeNested())
	require.False(t, ServiceGroupManagement.IsLastChangeNested())
}
