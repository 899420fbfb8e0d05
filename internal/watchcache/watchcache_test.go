package watchcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// fakeHandle counts Release calls instead of doing real subscription I/O.
type fakeHandle struct{ released *int }

func (h fakeHandle) Release() { *h.released++ }

// fakeTimers captures scheduled callbacks so tests can fire them
// deterministically instead of racing a real timer.
type fakeTimers struct {
	fns []func()
}

func (f *fakeTimers) after(_ time.Duration, fn func()) *time.Timer {
	f.fns = append(f.fns, fn)
	return time.NewTimer(time.Hour) // never fires on its own; fireAll drives it
}

func (f *fakeTimers) fireAll() {
	fns := f.fns
	f.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func TestGetOrWatchMissCallsFactoryOnce(t *testing.T) {
	c := New(time.Minute)
	released := 0
	calls := 0
	v := model.PropertyValue{Enum: strp("PLAYING")}

	factory := func() (Handle, model.PropertyValue) {
		calls++
		return fakeHandle{released: &released}, v
	}

	got := c.GetOrWatch("RINCON_1", model.PropertyPlaybackState, factory)
	require.Equal(t, 1, calls)
	require.Equal(t, v, got)
	require.Equal(t, 1, c.Stats())
}

func TestGetOrWatchHitSkipsFactory(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	factory := func() (Handle, model.PropertyValue) {
		calls++
		return fakeHandle{released: new(int)}, model.PropertyValue{}
	}

	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)
	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)
	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)

	require.Equal(t, 1, calls, "a cache hit must never invoke the factory (no I/O on hit)")
}

func TestGetOrWatchEvictsAfterCleanupTimeout(t *testing.T) {
	c := New(time.Minute)
	timers := &fakeTimers{}
	c.afterFunc = timers.after

	released := 0
	factory := func() (Handle, model.PropertyValue) {
		return fakeHandle{released: &released}, model.PropertyValue{}
	}
	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)
	require.Equal(t, 1, c.Stats())

	timers.fireAll()

	require.Equal(t, 0, c.Stats())
	require.Equal(t, 1, released)
}

func TestGetOrWatchReuseCancelsPendingEviction(t *testing.T) {
	c := New(time.Minute)
	timers := &fakeTimers{}
	c.afterFunc = timers.after

	released := 0
	factory := func() (Handle, model.PropertyValue) {
		return fakeHandle{released: &released}, model.PropertyValue{}
	}
	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)
	// Reuse before the (fake) timer fires: generation bumps, a fresh timer
	// is scheduled, and the stale callback captured above must no-op.
	c.GetOrWatch("RINCON_1", model.PropertyVolume, factory)

	require.Len(t, timers.fns, 2)
	// Fire only the first (now-stale) callback.
	timers.fns[0]()

	require.Equal(t, 1, c.Stats(), "reuse must cancel the entry's pending eviction")
	require.Equal(t, 0, released)
}

func TestTouchUpdatesValueWithoutDisturbingEntry(t *testing.T) {
	c := New(time.Minute)
	factory := func() (Handle, model.PropertyValue) {
		return fakeHandle{released: new(int)}, model.PropertyValue{Enum: strp("PLAYING")}
	}
	c.GetOrWatch("RINCON_1", model.PropertyPlaybackState, factory)

	fresh := model.PropertyValue{Enum: strp("PAUSED_PLAYBACK")}
	c.Touch("RINCON_1", model.PropertyPlaybackState, fresh)

	got := c.GetOrWatch("RINCON_1", model.PropertyPlaybackState, factory)
	require.Equal(t, "PAUSED_PLAYBACK", *got.Enum)
}

func TestClearReleasesAllHandles(t *testing.T) {
	c := New(time.Minute)
	releasedA, releasedB := 0, 0
	c.GetOrWatch("RINCON_1", model.PropertyVolume, func() (Handle, model.PropertyValue) {
		return fakeHandle{released: &releasedA}, model.PropertyValue{}
	})
	c.GetOrWatch("RINCON_2", model.PropertyVolume, func() (Handle, model.PropertyValue) {
		return fakeHandle{released: &releasedB}, model.PropertyValue{}
	})

	c.Clear()

	require.Equal(t, 1, releasedA)
	require.Equal(t, 1, releasedB)
	require.Equal(t, 0, c.Stats())
}

func strp(s string) *string { return &s }
