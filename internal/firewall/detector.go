// Package firewall implements C6: proactive/periodic reachability
// detection and the polling fallback it drives. Detection is grounded in
// GENA's own semantics rather than a fabricated device action: a SUBSCRIBE
// makes a compliant UPnP device fire an initial NOTIFY immediately, so a
// trial SUBSCRIBE-then-wait-for-NOTIFY is a faithful probe of whether the
// device can reach our callback port at all.
package firewall

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/subscription"
)

var log = logging.For("firewall")

// Status is the reachability verdict for a device's callback path.
type Status string

const (
	StatusAccessible Status = "accessible"
	StatusBlocked    Status = "blocked"
	StatusUnknown    Status = "unknown"
	StatusError      Status = "error"
)

// RouteRegistrar is the narrow surface Detector needs from the broker (C7)
// to stand up a throwaway probe route.
type RouteRegistrar interface {
	RegisterRoute(token string, speaker model.SpeakerId, service model.ServiceKind)
	UnregisterRoute(token string)
}

// NotifyWaiter is the narrow surface Detector needs from the broker to
// learn whether a probe's NOTIFY arrived.
type NotifyWaiter interface {
	AwaitNotify(token string) <-chan struct{}
	CancelWait(token string)
}

// CallbackProvider is the narrow surface Detector needs from the callback
// server (C4): its externally reachable base URL, and its own
// subscription table so a probe's throwaway token isn't 404'd at the door.
type CallbackProvider interface {
	BaseURL() string
	Register(token string)
	Unregister(token string)
}

type deviceState struct {
	status      Status
	lastProbe   time.Time
	lastSOAPOK  time.Time
}

// Detector drives proactive and periodic callback-reachability probes and
// tracks each device's believed-responsive state for the event-timeout
// fallback.
type Detector struct {
	client   *subscription.Client
	routes   RouteRegistrar
	waiter   NotifyWaiter
	callback CallbackProvider
	probeWait time.Duration

	mu    sync.Mutex
	state map[string]*deviceState
}

// NewDetector builds a Detector. probeWait bounds how long a single probe
// waits for the device's initial NOTIFY before concluding Blocked.
func NewDetector(client *subscription.Client, routes RouteRegistrar, waiter NotifyWaiter, callback CallbackProvider, probeWait time.Duration) *Detector {
	return &Detector{
		client:    client,
		routes:    routes,
		waiter:    waiter,
		callback:  callback,
		probeWait: probeWait,
		state:     make(map[string]*deviceState),
	}
}

// Probe issues a trial SUBSCRIBE against one service on deviceIP and
// reports whether its initial NOTIFY arrives within probeWait.
func (d *Detector) Probe(ctx context.Context, deviceIP string, service model.ServiceKind) Status {
	path, ok := service.EventPath()
	if !ok {
		return StatusUnknown
	}

	token := uuid.NewString()
	d.routes.RegisterRoute(token, model.SpeakerId(deviceIP), service)
	d.callback.Register(token)
	defer func() {
		d.routes.UnregisterRoute(token)
		d.callback.Unregister(token)
	}()

	arrived := d.waiter.AwaitNotify(token)
	callbackURL := d.callback.BaseURL() + "/notify/" + token

	sid, _, err := d.client.Subscribe(ctx, deviceIP, path, callbackURL, 60)
	if err != nil {
		d.waiter.CancelWait(token)
		d.record(deviceIP, StatusError, false)
		return StatusError
	}
	defer func() {
		unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.client.Unsubscribe(unsubCtx, deviceIP, path, sid)
	}()

	select {
	case <-arrived:
		d.record(deviceIP, StatusAccessible, true)
		return StatusAccessible
	case <-time.After(d.probeWait):
		d.waiter.CancelWait(token)
		d.record(deviceIP, StatusBlocked, false)
		return StatusBlocked
	case <-ctx.Done():
		d.waiter.CancelWait(token)
		d.record(deviceIP, StatusUnknown, false)
		return StatusUnknown
	}
}

func (d *Detector) record(deviceIP string, status Status, soapOK bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[deviceIP]
	if !ok {
		s = &deviceState{}
		d.state[deviceIP] = s
	}
	s.status = status
	s.lastProbe = time.Now()
	if soapOK {
		s.lastSOAPOK = time.Now()
	}
	log.Infof("probe result device=%s status=%s", deviceIP, status)
}

// Status returns the last known status for a device, StatusUnknown if it
// has never been probed.
func (d *Detector) Status(deviceIP string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[deviceIP]
	if !ok || s.status == "" {
		return StatusUnknown
	}
	return s.status
}

// RecordSOAPSuccess marks deviceIP as having just answered a SOAP call
// (either a poll tick or an ad hoc control action), feeding the
// believed-responsive liveness signal independent of probe cadence.
func (d *Detector) RecordSOAPSuccess(deviceIP string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[deviceIP]
	if !ok {
		s = &deviceState{}
		d.state[deviceIP] = s
	}
	s.lastSOAPOK = time.Now()
}

// BelievedResponsive reports whether deviceIP should be treated as live
// for the purposes of the event-timeout UPnP->Polling downgrade: its last
// probe said Accessible, and it has answered SOAP within 2*eventTimeout.
func (d *Detector) BelievedResponsive(deviceIP string, eventTimeout time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[deviceIP]
	if !ok {
		return false
	}
	if s.status != StatusAccessible {
		return false
	}
	return time.Since(s.lastSOAPOK) <= 2*eventTimeout
}
