package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
)

var log = logging.For("subscription")

// RouteTable is the narrow surface Manager needs from the broker (C7): the
// SID/token routing table, kept in lockstep with the manager's own table.
type RouteTable interface {
	RegisterRoute(token string, speaker model.SpeakerId, service model.ServiceKind)
	UnregisterRoute(token string)
}

// CallbackProvider is the narrow surface Manager needs from the callback
// server (C4): its externally reachable base URL, and C4's own
// subscription table (kept in lockstep with this manager's records,
// separate from the broker's speaker/service routing table).
type CallbackProvider interface {
	BaseURL() string
	Register(token string)
	Unregister(token string)
}

// FirewallAdvisor is the narrow surface Manager needs from C6 to decide,
// at Subscribe time, whether a device's callback path is known to be
// reachable. A nil advisor (firewall detection disabled) means every
// Subscribe attempts a real SUBSCRIBE.
type FirewallAdvisor interface {
	Status(deviceIP string) string

	// BelievedResponsive reports whether deviceIP is still believed to
	// answer SOAP even though it hasn't sent a GENA event in eventTimeout:
	// true means "downgrade to polling", false means "treat as gone".
	BelievedResponsive(deviceIP string, eventTimeout time.Duration) bool
}

// PollController is the narrow surface Manager needs from C6's poller:
// start/stop the synthetic-event task backing a Polling-mode record. reason
// is "" for a cold-path fallback subscribe, or a non-empty resync reason
// (e.g. "EventTimeout") when a previously-UPnP record is being downgraded;
// the poller tags its first synthesized event accordingly.
type PollController interface {
	Start(key model.SubscriptionKey, deviceIP string, reason string)
	Stop(key model.SubscriptionKey)
}

// pollingSIDPrefix marks a Record.SID as a synthetic identifier standing
// in for a device SID that was never issued, so SubscriptionKey -> SID
// lookups behave uniformly whether or not a real GENA subscription exists.
const pollingSIDPrefix = "polling:"

// Config bundles the tunables the manager needs from the resolved
// configuration record.
type Config struct {
	SubscriptionTimeoutSeconds int
	RenewalThresholdSeconds    int
	MaxRenewalAttempts         int
	RenewalBackoffBaseMs       int

	// EventTimeoutSeconds bounds how long a UPnP record may go without a
	// NOTIFY before the renewal loop downgrades it to Polling (or expires
	// it, if the device isn't believed responsive at all). Zero disables
	// the check.
	EventTimeoutSeconds int
}

// Manager is C5: the subscription lifecycle — subscribe, renew with
// backoff, unsubscribe, and structured shutdown. One record per
// SubscriptionKey; the manager's own mutex guards only the table
// (presence/absence of keys), never a record's fields during renewal.
type Manager struct {
	cfg      Config
	client   *Client
	routes   RouteTable
	callback CallbackProvider

	mu      sync.RWMutex
	records map[model.SubscriptionKey]*Record

	// bySID indexes UPnP-mode records by their callback token, for
	// RecordEvent's lookup on the NOTIFY hot path. Polling-mode records
	// are never indexed here: their token is never registered with the
	// broker, so no NOTIFY can ever arrive for it.
	bySID map[string]*Record

	lifecycle chan LifecycleEvent
	now       func() time.Time
	sleep     func(time.Duration)

	advisor FirewallAdvisor
	poller  PollController

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// AttachFirewall wires the manager to C6: subsequent Subscribe calls
// consult advisor before issuing a real SUBSCRIBE, and poller owns
// Polling-mode records' synthetic-event tasks. Optional; an unattached
// Manager always attempts a real UPnP subscription.
func (m *Manager) AttachFirewall(advisor FirewallAdvisor, poller PollController) {
	m.advisor = advisor
	m.poller = poller
}

// NewManager builds a Manager. routes and callback are typically the same
// broker.Broker / callback.Server instances the rest of the pipeline uses.
func NewManager(cfg Config, client *Client, routes RouteTable, callback CallbackProvider) *Manager {
	return &Manager{
		cfg:       cfg,
		client:    client,
		routes:    routes,
		callback:  callback,
		records:   make(map[model.SubscriptionKey]*Record),
		bySID:     make(map[string]*Record),
		lifecycle: make(chan LifecycleEvent, 64),
		now:       time.Now,
		sleep:     time.Sleep,
		stopCh:    make(chan struct{}),
	}
}

// Lifecycle returns the channel of SubscriptionEstablished/Failed/Renewed/
// Expired records, kept separate from the data stream per spec's
// error-handling design.
func (m *Manager) Lifecycle() <-chan LifecycleEvent { return m.lifecycle }

func (m *Manager) emit(kind LifecycleKind, key model.SubscriptionKey, sid string, err error) {
	evt := LifecycleEvent{Kind: kind, Key: key, SID: sid, Err: err, Timestamp: m.now()}
	select {
	case m.lifecycle <- evt:
	default:
		log.Warnf("lifecycle channel full, dropping %s for %s", kind, key)
	}
}

// Start launches the renewal loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.renewalLoop()
}

// Subscribe is idempotent: a key that already has a live record returns
// its existing SID without issuing another SUBSCRIBE. This is the "a
// subscription exists iff some observer asked for one" half of the
// invariant; C9's watch cache is what decides when to call Subscribe at
// all.
func (m *Manager) Subscribe(ctx context.Context, key model.SubscriptionKey, deviceIP string) (string, error) {
	m.mu.RLock()
	if rec, ok := m.records[key]; ok {
		m.mu.RUnlock()
		return rec.snapshot().SID, nil
	}
	m.mu.RUnlock()

	if m.shouldPoll(deviceIP) {
		return m.subscribePolling(key, deviceIP, ""), nil
	}

	return m.subscribeUPnP(ctx, key, deviceIP)
}

// subscribeUPnP issues a real GENA SUBSCRIBE and stores the resulting
// UPnP-mode record. Shared by Subscribe's cold path and the periodic
// Polling->UPnP upgrade.
func (m *Manager) subscribeUPnP(ctx context.Context, key model.SubscriptionKey, deviceIP string) (string, error) {
	path, ok := key.Service.EventPath()
	if !ok {
		return "", &apperrors.ProtocolError{Op: "subscribe", Detail: fmt.Sprintf("no event path for %s", key.Service)}
	}

	token := uuid.NewString()
	m.routes.RegisterRoute(token, key.Speaker, key.Service)
	m.callback.Register(token)

	callbackURL := fmt.Sprintf("%s/notify/%s", m.callback.BaseURL(), token)
	sid, timeout, err := m.client.Subscribe(ctx, deviceIP, path, callbackURL, m.cfg.SubscriptionTimeoutSeconds)
	if err != nil {
		m.routes.UnregisterRoute(token)
		m.callback.Unregister(token)
		m.emit(LifecycleFailed, key, "", err)
		return "", err
	}

	rec := &Record{
		Key:            key,
		SID:            token,
		DeviceIP:       deviceIP,
		ServicePath:    path,
		CallbackURL:    callbackURL,
		TimeoutSeconds: timeout,
		SubscribedAt:   m.now(),
		ExpiresAt:      m.now().Add(time.Duration(timeout) * time.Second),
		Mode:           model.ModeUPnP,
		LastEventAt:    m.now(),
	}
	rec.deviceSID = sid

	m.mu.Lock()
	m.records[key] = rec
	m.bySID[token] = rec
	m.mu.Unlock()

	m.emit(LifecycleEstablished, key, sid, nil)
	log.Infof("subscribed %s sid=%s timeout=%ds", key, sid, timeout)
	return token, nil
}

// Unsubscribe tears down a record, best-effort on the network side.
func (m *Manager) Unsubscribe(ctx context.Context, key model.SubscriptionKey) {
	m.mu.Lock()
	rec, ok := m.records[key]
	delete(m.records, key)
	m.mu.Unlock()
	if !ok {
		return
	}

	if rec.Mode == model.ModePolling {
		if m.poller != nil {
			m.poller.Stop(key)
		}
		return
	}

	m.mu.Lock()
	delete(m.bySID, rec.SID)
	m.mu.Unlock()

	m.routes.UnregisterRoute(rec.SID)
	m.callback.Unregister(rec.SID)
	m.client.Unsubscribe(ctx, rec.DeviceIP, rec.ServicePath, rec.deviceSID)
}

// shouldPoll reports whether a fresh subscription for deviceIP should use
// the polling fallback instead of a real SUBSCRIBE: unreachable
// (Blocked), or not yet probed (Unknown) per spec's pessimistic default.
func (m *Manager) shouldPoll(deviceIP string) bool {
	if m.advisor == nil {
		return false
	}
	switch m.advisor.Status(deviceIP) {
	case "blocked", "unknown":
		return true
	default:
		return false
	}
}

// subscribePolling creates a Polling-mode record with a synthetic SID
// (the pollingSIDPrefix convention) and starts its per-record polling
// task, without ever issuing SUBSCRIBE. reason is forwarded to the poller
// so its first synthesized event can be tagged as a resync (see
// PollController).
func (m *Manager) subscribePolling(key model.SubscriptionKey, deviceIP string, reason string) string {
	token := pollingSIDPrefix + uuid.NewString()
	rec := &Record{
		Key:          key,
		SID:          token,
		DeviceIP:     deviceIP,
		SubscribedAt: m.now(),
		ExpiresAt:    m.now().Add(100 * 365 * 24 * time.Hour),
		Mode:         model.ModePolling,
	}

	m.mu.Lock()
	m.records[key] = rec
	m.mu.Unlock()

	if m.poller != nil {
		m.poller.Start(key, deviceIP, reason)
	}
	m.emit(LifecycleEstablished, key, token, nil)
	log.Infof("polling fallback active for %s (firewall status blocks UPnP events)", key)
	return token
}

// ShutdownAll unsubscribes every record in parallel and returns once all
// attempts complete, bounded by ctx's deadline.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	close(m.stopCh)

	m.mu.RLock()
	keys := make([]model.SubscriptionKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			m.Unsubscribe(gctx, k)
			return nil
		})
	}
	err := g.Wait()
	m.wg.Wait()
	return err
}

func (m *Manager) renewalLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.renewExpiring()
			m.upgradePolling()
			m.checkEventTimeout()
		case <-m.stopCh:
			return
		}
	}
}

// upgradePolling checks the advisor's status for every Polling-mode record
// once per renewal tick and switches the record to a real UPnP
// subscription when the advisor reports Accessible. It issues no probe
// itself; the status is whatever the advisor last recorded.
func (m *Manager) upgradePolling() {
	if m.advisor == nil {
		return
	}

	m.mu.RLock()
	var candidates []*Record
	for _, rec := range m.records {
		if rec.Mode == model.ModePolling {
			candidates = append(candidates, rec)
		}
	}
	m.mu.RUnlock()

	for _, rec := range candidates {
		snap := rec.snapshot()
		if m.advisor.Status(snap.DeviceIP) != "accessible" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := m.subscribeUPnP(ctx, snap.Key, snap.DeviceIP)
		cancel()
		if err != nil {
			log.Warnf("polling->upnp upgrade failed for %s: %v", snap.Key, err)
			continue
		}

		if m.poller != nil {
			m.poller.Stop(snap.Key)
		}
		log.Infof("upgraded %s from polling to upnp events", snap.Key)
	}
}

// RecordEvent implements broker.EventObserver: it marks a UPnP record's
// last-event time and logs a GENA sequence gap. It never expires or
// downgrades anything itself — that's checkEventTimeout's job, run once
// per renewal-loop tick so all staleness decisions happen on one cadence.
func (m *Manager) RecordEvent(token string, seq int) {
	m.mu.RLock()
	rec, ok := m.bySID[token]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if seq != 0 && rec.SEQ != 0 && seq != rec.SEQ+1 {
		log.Warnf("SEQ gap for %s: expected %d, got %d", rec.Key, rec.SEQ+1, seq)
	}
	if seq != 0 {
		rec.SEQ = seq
	}
	rec.LastEventAt = m.now()
}

// checkEventTimeout enforces the per-tick invariant for UPnP records: any
// record that has gone EventTimeoutSeconds without a NOTIFY must, by the
// end of this call, either still be fresh (handled above, nothing to do),
// be downgraded to Polling (device believed responsive, just unreachable
// over GENA), or be expired outright (device not believed responsive at
// all). A zero EventTimeoutSeconds or unattached advisor disables the
// check entirely, same convention as shouldPoll/upgradePolling.
func (m *Manager) checkEventTimeout() {
	if m.cfg.EventTimeoutSeconds == 0 || m.advisor == nil {
		return
	}
	timeout := time.Duration(m.cfg.EventTimeoutSeconds) * time.Second

	m.mu.RLock()
	var stale []*Record
	for _, rec := range m.records {
		if rec.Mode != model.ModeUPnP {
			continue
		}
		snap := rec.snapshot()
		if m.now().Sub(snap.LastEventAt) >= timeout {
			stale = append(stale, rec)
		}
	}
	m.mu.RUnlock()

	for _, rec := range stale {
		snap := rec.snapshot()
		if m.advisor.BelievedResponsive(snap.DeviceIP, timeout) {
			m.downgradeToPolling(snap)
		} else {
			m.expireAndRemove(rec, fmt.Errorf("no events received in %s", timeout))
		}
	}
}

// downgradeToPolling replaces a stale UPnP record with a Polling-mode one
// for the same key, reusing subscribePolling so the synthetic-SID and
// poller-start conventions stay identical to the cold-path Subscribe case.
func (m *Manager) downgradeToPolling(snap Record) {
	m.mu.Lock()
	delete(m.records, snap.Key)
	delete(m.bySID, snap.SID)
	m.mu.Unlock()

	m.routes.UnregisterRoute(snap.SID)
	m.callback.Unregister(snap.SID)
	m.subscribePolling(snap.Key, snap.DeviceIP, "EventTimeout")
	log.Infof("downgraded %s to polling: no events in event_timeout window", snap.Key)
}

func (m *Manager) renewExpiring() {
	threshold := time.Duration(m.cfg.RenewalThresholdSeconds) * time.Second

	m.mu.RLock()
	var due []*Record
	for _, rec := range m.records {
		if rec.Mode == model.ModeUPnP && rec.expiringSoon(m.now(), threshold) {
			due = append(due, rec)
		}
	}
	m.mu.RUnlock()

	for _, rec := range due {
		go m.renewOne(rec)
	}
}

// renewOne retries a single record's renewal with exponential backoff
// (base * 2^(attempt-1) between attempts), expiring the subscription after
// MaxRenewalAttempts consecutive failed attempts; a 412 from the device
// expires it at once.
func (m *Manager) renewOne(rec *Record) {
	base := time.Duration(m.cfg.RenewalBackoffBaseMs) * time.Millisecond

	for attempt := 1; attempt <= m.cfg.MaxRenewalAttempts; attempt++ {
		if attempt > 1 {
			m.sleep(base * time.Duration(1<<(attempt-2)))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		timeout, err := m.client.Renew(ctx, rec.DeviceIP, rec.ServicePath, rec.deviceSID, m.cfg.SubscriptionTimeoutSeconds)
		cancel()

		if err == nil {
			rec.mu.Lock()
			rec.TimeoutSeconds = timeout
			rec.ExpiresAt = m.now().Add(time.Duration(timeout) * time.Second)
			rec.renewalFailures = 0
			rec.mu.Unlock()
			m.emit(LifecycleRenewed, rec.Key, rec.deviceSID, nil)
			return
		}

		var expired *apperrors.SubscriptionExpiredError
		if errors.As(err, &expired) {
			m.expireAndRemove(rec, err)
			return
		}

		log.Warnf("renewal attempt %d/%d failed for %s: %v", attempt, m.cfg.MaxRenewalAttempts, rec.Key, err)
	}

	m.expireAndRemove(rec, fmt.Errorf("renewal attempts exhausted"))
}

func (m *Manager) expireAndRemove(rec *Record, cause error) {
	m.mu.Lock()
	delete(m.records, rec.Key)
	delete(m.bySID, rec.SID)
	m.mu.Unlock()
	m.routes.UnregisterRoute(rec.SID)
	m.callback.Unregister(rec.SID)
	m.emit(LifecycleExpired, rec.Key, rec.deviceSID, cause)
	log.Infof("subscription expired and removed: %s (%v)", rec.Key, cause)
}
