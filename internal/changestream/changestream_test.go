package changestream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

func TestChangeFilterMatchesANDSemantics(t *testing.T) {
	f := ChangeFilter{
		Services: []model.ServiceKind{model.ServiceAVTransport},
		Speakers: []model.SpeakerId{"RINCON_1"},
	}
	matching := model.ChangeEvent{Service: model.ServiceAVTransport, Speaker: "RINCON_1"}
	require.True(t, f.matches(matching))

	wrongSpeaker := model.ChangeEvent{Service: model.ServiceAVTransport, Speaker: "RINCON_2"}
	require.False(t, f.matches(wrongSpeaker))

	wrongService := model.ChangeEvent{Service: model.ServiceRenderingControl, Speaker: "RINCON_1"}
	require.False(t, f.matches(wrongService))
}

func TestChangeFilterRerenderOnly(t *testing.T) {
	f := ChangeFilter{RerenderOnly: true}
	require.False(t, f.matches(model.ChangeEvent{}))
	require.True(t, f.matches(model.ChangeEvent{Rerender: model.RerenderContext{RequiresRerender: true}}))
}

func TestChangeFilterZeroValueMatchesEverything(t *testing.T) {
	var f ChangeFilter
	require.True(t, f.matches(model.ChangeEvent{Service: model.ServiceAVTransport, Speaker: "anything"}))
}

func TestStreamDeliversToSubscriber(t *testing.T) {
	source := make(chan model.ChangeEvent, 1)
	s := New(source)
	c := s.Subscribe(ChangeFilter{}, 4, DropOldest)

	source <- model.ChangeEvent{Speaker: "RINCON_1"}

	select {
	case evt := <-c.Events():
		require.Equal(t, model.SpeakerId("RINCON_1"), evt.Speaker)
	case <-time.After(time.Second):
		t.Fatal("expected the event to be fanned out to the subscriber")
	}
}

func TestStreamUnsubscribeStopsDelivery(t *testing.T) {
	source := make(chan model.ChangeEvent, 1)
	s := New(source)
	c := s.Subscribe(ChangeFilter{}, 4, DropOldest)
	s.Unsubscribe(c)

	source <- model.ChangeEvent{Speaker: "RINCON_1"}
	time.Sleep(20 * time.Millisecond)

	select {
	case <-c.Events():
		t.Fatal("unsubscribed consumer must not receive further events")
	default:
	}
}

func TestConsumerDropOldestEvictsOldestOnOverflow(t *testing.T) {
	c := &Consumer{ch: make(chan model.ChangeEvent, 1), policy: DropOldest}
	c.deliver(model.ChangeEvent{Speaker: "first"})
	c.deliver(model.ChangeEvent{Speaker: "second"})

	got := <-c.ch
	require.Equal(t, model.SpeakerId("second"), got.Speaker, "DropOldest keeps the newest event when the queue is full")
}

func TestConsumerSignalLagMarksLaggedWithoutDroppingOldEvent(t *testing.T) {
	c := &Consumer{ch: make(chan model.ChangeEvent, 1), policy: SignalLag}
	c.deliver(model.ChangeEvent{Speaker: "first"})
	c.deliver(model.ChangeEvent{Speaker: "second"})

	require.True(t, c.Lagged())
	require.False(t, c.Lagged(), "Lagged() clears the flag once observed")

	got := <-c.ch
	require.Equal(t, model.SpeakerId("first"), got.Speaker, "SignalLag drops the newest event, keeping the oldest queued")
}

func TestIteratorNextBlocksUntilEvent(t *testing.T) {
	source := make(chan model.ChangeEvent, 1)
	s := New(source)
	c := s.Subscribe(ChangeFilter{}, 4, DropOldest)
	it := NewIterator(c)

	source <- model.ChangeEvent{Speaker: "RINCON_1"}

	done := make(chan model.ChangeEvent, 1)
	go func() {
		evt, ok := it.Next()
		require.True(t, ok)
		done <- evt
	}()

	select {
	case evt := <-done:
		require.Equal(t, model.SpeakerId("RINCON_1"), evt.Speaker)
	case <-time.After(time.Second):
		t.Fatal("Iterator.Next should have returned the delivered event")
	}
}
