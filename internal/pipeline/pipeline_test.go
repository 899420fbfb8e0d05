package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/broker"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/store"
)

func TestRunAppliesDecodedUpdatesToStore(t *testing.T) {
	b := broker.New(8)
	s := store.New(8)
	go Run(b, s)

	vol := 15
	b.Submit(model.TypedEvent{
		Speaker:           "RINCON_1",
		Service:           model.ServiceRenderingControl,
		RenderingControl: &model.RenderingControlRecord{Volume: &vol},
	})

	require.Eventually(t, func() bool {
		v, ok := s.Get("RINCON_1", model.PropertyVolume)
		return ok && v.Numeric != nil && *v.Numeric == 15
	}, time.Second, 5*time.Millisecond)
}

func TestRunReplacesTopologyOnZoneGroupTopologyEvent(t *testing.T) {
	b := broker.New(8)
	s := store.New(8)
	go Run(b, s)

	b.Submit(model.TypedEvent{
		Service: model.ServiceZoneGroupTopology,
		ZoneGroupTopology: &model.ZoneGroupTopologyRecord{
			Speakers: []model.SpeakerInfo{{ID: "RINCON_1", Name: "Living Room"}},
			Groups:   []model.GroupInfo{{ID: "G1", Coordinator: "RINCON_1", Members: []model.SpeakerId{"RINCON_1"}}},
		},
	})

	require.Eventually(t, func() bool {
		return len(s.Topology().Speakers) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "Living Room", s.Topology().Speakers[0].Name)
}

func TestRunSkipsApplyWhenNoUpdatesDecoded(t *testing.T) {
	b := broker.New(8)
	s := store.New(8)
	go Run(b, s)

	b.Submit(model.TypedEvent{Speaker: "RINCON_1", Service: model.ServiceDeviceProperties})

	time.Sleep(20 * time.Millisecond)
	select {
	case <-s.Changes():
		t.Fatal("a DeviceProperties event with no decoded updates must not emit a ChangeEvent")
	default:
	}
}

func TestLogParseFailuresDrainsWithoutPanicking(t *testing.T) {
	b := broker.New(8)
	go LogParseFailures(b)

	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceAVTransport)
	err := b.Ingest("tok-1", []byte("not xml"), model.EventSource{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
}
