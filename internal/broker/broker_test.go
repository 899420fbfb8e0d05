package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

func TestLookupUnknownToken(t *testing.T) {
	b := New(8)
	_, _, ok := b.Lookup("nope")
	require.False(t, ok)
}

func TestIngestUnknownTokenReturnsErrUnknownToken(t *testing.T) {
	b := New(8)
	err := b.Ingest("nope", []byte(`<propertyset/>`), model.EventSource{})
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestIngestRoutesToTypedEventStream(t *testing.T) {
	b := New(8)
	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceDeviceProperties)

	body := []byte(`<propertyset><property><ZoneName>Living Room</ZoneName></property></propertyset>`)
	err := b.Ingest("tok-1", body, model.EventSource{Kind: model.SourceUPnPNotification, SID: "tok-1"})
	require.NoError(t, err)

	select {
	case evt := <-b.Stream():
		require.Equal(t, model.SpeakerId("RINCON_1"), evt.Speaker)
		require.Equal(t, model.ServiceDeviceProperties, evt.Service)
		require.NotNil(t, evt.DeviceProperties)
	case <-time.After(time.Second):
		t.Fatal("expected an event on the unified stream")
	}
}

func TestIngestMalformedBodyReportsParseFailureNotError(t *testing.T) {
	b := New(8)
	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceAVTransport)

	err := b.Ingest("tok-1", []byte("not xml"), model.EventSource{})
	require.NoError(t, err, "a parse failure on a routable token is still an HTTP 200: the subscription itself is healthy")

	select {
	case failure := <-b.ParseFailures():
		require.Equal(t, model.SpeakerId("RINCON_1"), failure.Speaker)
		require.Error(t, failure.Err)
	case <-time.After(time.Second):
		t.Fatal("expected a ParseFailure record")
	}

	select {
	case <-b.Stream():
		t.Fatal("a parse failure must never reach the typed event stream")
	default:
	}
}

func TestUnregisterRouteMakesTokenUnknown(t *testing.T) {
	b := New(8)
	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceAVTransport)
	b.UnregisterRoute("tok-1")

	_, _, ok := b.Lookup("tok-1")
	require.False(t, ok)
}

func TestAwaitNotifyClosedOnIngest(t *testing.T) {
	b := New(8)
	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceDeviceProperties)

	arrived := b.AwaitNotify("tok-1")
	body := []byte(`<propertyset><property><ZoneName>Kitchen</ZoneName></property></propertyset>`)
	require.NoError(t, b.Ingest("tok-1", body, model.EventSource{}))

	select {
	case <-arrived:
	case <-time.After(time.Second):
		t.Fatal("AwaitNotify's channel should close once the NOTIFY for its token is ingested")
	}
}

func TestCancelWaitRemovesWaiterWithoutSignaling(t *testing.T) {
	b := New(8)
	arrived := b.AwaitNotify("tok-1")
	b.CancelWait("tok-1")

	select {
	case <-arrived:
		t.Fatal("CancelWait must not signal the waiter")
	case <-time.After(20 * time.Millisecond):
	}
}

type fakeObserver struct {
	tokens []string
	seqs   []int
}

func (f *fakeObserver) RecordEvent(token string, seq int) {
	f.tokens = append(f.tokens, token)
	f.seqs = append(f.seqs, seq)
}

func TestIngestNotifiesEventObserver(t *testing.T) {
	b := New(8)
	b.RegisterRoute("tok-1", "RINCON_1", model.ServiceAVTransport)
	obs := &fakeObserver{}
	b.SetEventObserver(obs)

	require.NoError(t, b.Ingest("tok-1", []byte("not xml"), model.EventSource{SEQ: 7}))
	require.Equal(t, []string{"tok-1"}, obs.tokens)
	require.Equal(t, []int{7}, obs.seqs)
}

func TestIngestUnknownTokenNeverReachesObserver(t *testing.T) {
	b := New(8)
	obs := &fakeObserver{}
	b.SetEventObserver(obs)

	_ = b.Ingest("nope", []byte("not xml"), model.EventSource{SEQ: 7})
	require.Empty(t, obs.tokens)
}

func TestSubmitBypassesLookupAndReachesStream(t *testing.T) {
	b := New(8)
	evt := model.TypedEvent{Speaker: "RINCON_1", Service: model.ServiceRenderingControl}
	b.Submit(evt)

	select {
	case got := <-b.Stream():
		require.Equal(t, evt.Speaker, got.Speaker)
	case <-time.After(time.Second):
		t.Fatal("Submit should push directly onto the unified stream")
	}
}
