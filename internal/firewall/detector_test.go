package firewall

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/subscription"
)

type fakeRouteRegistrar struct{ registered, unregistered []string }

func (f *fakeRouteRegistrar) RegisterRoute(token string, speaker model.SpeakerId, service model.ServiceKind) {
	f.registered = append(f.registered, token)
}
func (f *fakeRouteRegistrar) UnregisterRoute(token string) { f.unregistered = append(f.unregistered, token) }

type fakeWaiter struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newFakeWaiter() *fakeWaiter { return &fakeWaiter{chans: make(map[string]chan struct{})} }

func (w *fakeWaiter) AwaitNotify(token string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.chans[token] = ch
	return ch
}
func (w *fakeWaiter) CancelWait(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chans, token)
}
func (w *fakeWaiter) fireAny() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for token, ch := range w.chans {
		close(ch)
		delete(w.chans, token)
		return
	}
}

type fakeCallbackProvider struct{ base string }

func (f fakeCallbackProvider) BaseURL() string   { return f.base }
func (f fakeCallbackProvider) Register(string)   {}
func (f fakeCallbackProvider) Unregister(string) {}

func devicePort1400(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:1400")
	if err != nil {
		t.Skipf("port 1400 unavailable: %v", err)
	}
	srv := &httptest.Server{Listener: lis, Config: &http.Server{Handler: handler}}
	srv.Start()
	t.Cleanup(srv.Close)
	return "127.0.0.1"
}

func TestProbeAccessibleWhenNotifyArrivesBeforeTimeout(t *testing.T) {
	deviceIP := devicePort1400(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("SID", "device-sid")
		w.Header().Set("TIMEOUT", "Second-60")
		w.WriteHeader(http.StatusOK)
	})
	routes := &fakeRouteRegistrar{}
	waiter := newFakeWaiter()
	client := subscription.NewClient(time.Second)
	d := NewDetector(client, routes, waiter, fakeCallbackProvider{base: "http://cb"}, time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		waiter.fireAny()
	}()

	status := d.Probe(context.Background(), deviceIP, model.ServiceAVTransport)
	require.Equal(t, StatusAccessible, status)
	require.Equal(t, StatusAccessible, d.Status(deviceIP))
}

func TestProbeBlockedWhenNotifyNeverArrives(t *testing.T) {
	deviceIP := devicePort1400(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("SID", "device-sid")
		w.Header().Set("TIMEOUT", "Second-60")
		w.WriteHeader(http.StatusOK)
	})
	routes := &fakeRouteRegistrar{}
	waiter := newFakeWaiter()
	client := subscription.NewClient(time.Second)
	d := NewDetector(client, routes, waiter, fakeCallbackProvider{base: "http://cb"}, 30*time.Millisecond)

	status := d.Probe(context.Background(), deviceIP, model.ServiceAVTransport)
	require.Equal(t, StatusBlocked, status)
	require.Equal(t, StatusBlocked, d.Status(deviceIP))
}

func TestProbeErrorWhenSubscribeFails(t *testing.T) {
	deviceIP := devicePort1400(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	routes := &fakeRouteRegistrar{}
	waiter := newFakeWaiter()
	client := subscription.NewClient(time.Second)
	d := NewDetector(client, routes, waiter, fakeCallbackProvider{base: "http://cb"}, time.Second)

	status := d.Probe(context.Background(), deviceIP, model.ServiceAVTransport)
	require.Equal(t, StatusError, status)
	require.Len(t, routes.unregistered, 1, "probe route must be torn down even on failure")
}

func TestProbeUnknownServiceWithNoEventPath(t *testing.T) {
	d := NewDetector(subscription.NewClient(time.Second), &fakeRouteRegistrar{}, newFakeWaiter(), fakeCallbackProvider{}, time.Second)
	status := d.Probe(context.Background(), "192.0.2.1", model.ServiceKind("Bogus"))
	require.Equal(t, StatusUnknown, status)
}

func TestStatusDefaultsToUnknown(t *testing.T) {
	d := NewDetector(subscription.NewClient(time.Second), &fakeRouteRegistrar{}, newFakeWaiter(), fakeCallbackProvider{}, time.Second)
	require.Equal(t, StatusUnknown, d.Status("192.0.2.1"))
}

func TestBelievedResponsiveRequiresAccessibleAndRecentSOAP(t *testing.T) {
	d := NewDetector(subscription.NewClient(time.Second), &fakeRouteRegistrar{}, newFakeWaiter(), fakeCallbackProvider{}, time.Second)
	require.False(t, d.BelievedResponsive("192.0.2.1", time.Second), "never probed -> not responsive")

	d.record("192.0.2.1", StatusBlocked, false)
	require.False(t, d.BelievedResponsive("192.0.2.1", time.Second), "blocked status -> not responsive")

	d.record("192.0.2.1", StatusAccessible, true)
	require.True(t, d.BelievedResponsive("192.0.2.1", time.Second))
}

func TestRecordSOAPSuccessUpdatesLivenessIndependentOfProbe(t *testing.T) {
	d := NewDetector(subscription.NewClient(time.Second), &fakeRouteRegistrar{}, newFakeWaiter(), fakeCallbackProvider{}, time.Second)
	d.record("192.0.2.1", StatusAccessible, false)
	d.RecordSOAPSuccess("192.0.2.1")
	require.True(t, d.BelievedResponsive("192.0.2.1", time.Second))
}
