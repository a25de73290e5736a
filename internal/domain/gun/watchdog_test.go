package gun

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/eventbus"
)

func watchdogConfig() GunConfig {
	cfg := DefaultGunConfig()
	cfg.IdleTimeoutSecs = 5
	cfg.HomeX = 3
	cfg.HomeY = 12
	return cfg
}

func TestWatchdogRecentersOnceAfterIdleTimeout(t *testing.T) {
	h := newHarness(t, watchdogConfig(), Options{Owners: []string{"owner"}})
	ctx := context.Background()

	h.clock.Advance(4 * time.Second)
	assert.False(t, h.arb.watchdog.tick(ctx))
	assert.Empty(t, h.dev.calls())

	h.clock.Advance(time.Second)
	assert.True(t, h.arb.watchdog.tick(ctx))
	assert.Equal(t, []fireCall{{3, 12, 0}}, h.dev.calls())
	assert.True(t, h.svc.Snapshot().AtHome)

	h.clock.Advance(time.Minute)
	assert.False(t, h.arb.watchdog.tick(ctx))
	assert.Len(t, h.dev.calls(), 1, "parked device is not recentered again")

	res := h.arb.HandleFireIntent(ctx, FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	require.Equal(t, StateSettled, res.Status)
	assert.False(t, h.svc.Snapshot().AtHome)
}

func TestWatchdogHomeIgnoresOffsets(t *testing.T) {
	cfg := watchdogConfig()
	cfg.HorizontalOffset = 10
	cfg.VerticalOffset = 10
	h := newHarness(t, cfg, Options{})

	h.clock.Advance(5 * time.Second)
	require.True(t, h.arb.watchdog.tick(context.Background()))
	assert.Equal(t, []fireCall{{3, 12, 0}}, h.dev.calls())
}

func TestWatchdogNeverQueuesBehindUserFire(t *testing.T) {
	h := newHarness(t, watchdogConfig(), Options{})
	h.clock.Advance(10 * time.Second)

	require.True(t, h.arb.tryAcquire())
	assert.False(t, h.arb.watchdog.tick(context.Background()))
	h.arb.release()

	assert.Empty(t, h.dev.calls())
	assert.True(t, h.arb.watchdog.tick(context.Background()))
}

func TestWatchdogSkipsFaultedDevice(t *testing.T) {
	h := newHarness(t, watchdogConfig(), Options{Owners: []string{"owner"}})
	h.dev.setStatuses("ko")
	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	require.Equal(t, StateFaulted, res.Status)

	h.clock.Advance(time.Minute)
	assert.False(t, h.arb.watchdog.tick(context.Background()))
	assert.Len(t, h.dev.calls(), 1)
}

func TestWatchdogFailedRecenterStaysUnparked(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var events []eventbus.RecenterEventData
	require.NoError(t, bus.Subscribe(eventbus.EventWatchdogRecenter, func(e eventbus.RecenterEventData) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	h := newHarness(t, watchdogConfig(), Options{Publisher: bus})
	h.dev.setStatuses("error")
	h.clock.Advance(5 * time.Second)

	assert.False(t, h.arb.watchdog.tick(context.Background()))
	assert.False(t, h.svc.Snapshot().AtHome)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.False(t, events[0].OK)
	assert.NotEmpty(t, events[0].Error)
}

type toggleSource struct {
	mu    sync.Mutex
	cfg   GunConfig
	loads int
}

func (s *toggleSource) Load(context.Context) (GunConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.cfg, nil
}

func (s *toggleSource) Save(_ context.Context, cfg GunConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *toggleSource) setActive(v bool) {
	s.mu.Lock()
	s.cfg.Active = v
	s.mu.Unlock()
}

func TestWatchdogInactiveReloadsActiveFlag(t *testing.T) {
	h := newHarness(t, watchdogConfig(), Options{})
	require.NoError(t, h.arb.Shutdown(context.Background()))

	cfg := watchdogConfig()
	cfg.Active = false
	src := &toggleSource{cfg: cfg}
	state, err := NewConfigState(context.Background(), src, DefaultGunConfig())
	require.NoError(t, err)

	arb := NewArbitrator(h.svc, h.ledger, state, Options{WatchdogInterval: time.Hour, Now: h.clock.Now})
	t.Cleanup(func() { _ = arb.Shutdown(context.Background()) })

	h.clock.Advance(time.Minute)
	assert.False(t, arb.watchdog.tick(context.Background()))
	assert.False(t, state.Current().Active)
	assert.Empty(t, h.dev.calls(), "inactive gun is never moved")

	src.setActive(true)
	assert.False(t, arb.watchdog.tick(context.Background()))
	assert.True(t, state.Current().Active)

	assert.True(t, arb.watchdog.tick(context.Background()))
	assert.Len(t, h.dev.calls(), 1)
}

func TestWatchdogLoopRunsAndStops(t *testing.T) {
	h := newHarness(t, watchdogConfig(), Options{WatchdogInterval: 5 * time.Millisecond})
	h.clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(h.dev.calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.arb.Shutdown(context.Background()))
	assert.False(t, h.arb.watchdog.Running())

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.dev.calls(), 1)
}
