package subscription

import (
	"sync"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// Record is one active subscription. Renewal locks the individual record,
// not the manager's table lock, so a slow renewal on one device never
// blocks lookups or subscribes for any other.
type Record struct {
	mu sync.Mutex

	Key            model.SubscriptionKey
	SID            string
	DeviceIP       string
	ServicePath    string
	CallbackURL    string
	TimeoutSeconds int
	SubscribedAt   time.Time
	ExpiresAt      time.Time
	SEQ            int
	Mode           model.SubscriptionMode

	// LastEventAt is the last time a NOTIFY for this record's token reached
	// the broker, UPnP mode only (Polling records synthesize their own
	// events and never receive one through this path). Set to the
	// subscribe time when the record is created, so the event-timeout
	// window starts at subscribe.
	LastEventAt time.Time

	// deviceSID is the SID the device itself issued, used on RENEW/
	// UNSUBSCRIBE. SID above is our own routing token (see Manager.Subscribe);
	// the two differ because CALLBACK must be built before the device's SID
	// is known.
	deviceSID string

	renewalFailures int
}

func (r *Record) expiringSoon(now time.Time, threshold time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ExpiresAt.Sub(now) <= threshold
}

func (r *Record) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r
	cp.mu = sync.Mutex{}
	return cp
}

// LifecycleKind discriminates a LifecycleEvent.
type LifecycleKind string

const (
	LifecycleEstablished LifecycleKind = "established"
	LifecycleFailed       LifecycleKind = "failed"
	LifecycleRenewed      LifecycleKind = "renewed"
	LifecycleExpired      LifecycleKind = "expired"
)

// LifecycleEvent is emitted on a channel separate from data events so a
// monitoring UI can render subscription health without parsing NOTIFY
// bodies.
type LifecycleEvent struct {
	Kind      LifecycleKind
	Key       model.SubscriptionKey
	SID       string
	Err       error
	Timestamp time.Time
}
