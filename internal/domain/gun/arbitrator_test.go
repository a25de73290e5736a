package gun

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/device/aggregate"
	"nerfbot-server-go/internal/domain/device/client"
	"nerfbot-server-go/internal/domain/device/service"
	"nerfbot-server-go/internal/domain/eventbus"
	"nerfbot-server-go/internal/domain/ledger"
	"nerfbot-server-go/internal/domain/ledger/model"
	"nerfbot-server-go/internal/platform/errors"
)

func TestOwnerFireIsUnlimitedAndSkipsLedger(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	require.NoError(t, h.arb.Shutdown(context.Background()))

	credits := &MockCreditLedger{}
	arb := NewArbitrator(h.svc, credits, h.config, Options{Owners: []string{"Streamer"}, WatchdogInterval: time.Hour})
	t.Cleanup(func() { _ = arb.Shutdown(context.Background()) })

	res := arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "streamer", X: 30, Y: 40, Shots: 2})
	require.NoError(t, res.Err)
	assert.Equal(t, StateSettled, res.Status)
	assert.Equal(t, 2, res.Fired)
	assert.True(t, res.Remaining.Unlimited)
	assert.Equal(t, "streamer fired 2 shots!", res.Message)
	assert.Equal(t, "You have unlimited credits remaining.", res.Whisper)
	assert.Equal(t, []fireCall{{30, 40, 2}}, h.dev.calls())
	credits.AssertNotCalled(t, "AuthorizeAndReserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	credits.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything)
}

func TestOwnerFlagFromCollaborator(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "boss", IsOwner: true, X: 30, Y: 40, Shots: 2})
	require.NoError(t, res.Err)
	assert.True(t, res.Remaining.Unlimited)
	assert.Equal(t, []fireCall{{30, 40, 2}}, h.dev.calls())

	_, err := h.store.GetAccount(context.Background(), "boss")
	assert.Error(t, err, "owners never get an account")
}

func TestInsufficientCreditsNeverContactsDevice(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 15})

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 2})
	assert.Equal(t, StateRejected, res.Status)

	var short *ledger.InsufficientCreditsError
	require.True(t, stderrors.As(res.Err, &short))
	assert.Equal(t, int64(20), short.Required)
	assert.Equal(t, int64(15), short.Available)
	assert.True(t, errors.IsKind(res.Err, errors.KindAuthorization))
	assert.Equal(t, "viewer doesn't have enough credits. Required: 20, Available: 15", res.Message)

	assert.Empty(t, h.dev.calls())
	assert.Equal(t, int64(15), h.account(t, "viewer").Balance)
}

func TestFloorPlusOneShotsRejected(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 2, Balance: 35})

	// price 8 for tier 2: floor(35/8)+1 = 5 shots
	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 2, X: 0, Y: 10, Shots: 5})
	assert.Equal(t, StateRejected, res.Status)
	assert.Empty(t, h.dev.calls())
	assert.Equal(t, int64(35), h.account(t, "viewer").Balance)
}

func TestSettledBillsAcceptedShots(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.dev.clamp = 1
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 100, BonusBalance: 5})

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", DisplayName: "Viewer", Tier: 1, X: 0, Y: 10, Shots: 3})
	require.NoError(t, res.Err)
	assert.Equal(t, StateSettled, res.Status)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, Credits(95), res.Remaining)
	assert.Equal(t, "Viewer fired 1 shots!", res.Message)
	assert.Equal(t, "You have 95 credits remaining.", res.Whisper)

	acct := h.account(t, "viewer")
	assert.Equal(t, int64(90), acct.Balance)
	assert.Equal(t, int64(5), acct.BonusBalance)
	assert.Zero(t, h.ledger.Pending("viewer"))
}

func TestEchoedShotsNeverExceedRequest(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}})
	h.dev.echo = 5
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 100})

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 2})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Fired)
	assert.Equal(t, int64(80), h.account(t, "viewer").Balance)

	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 2})
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Fired)
	assert.Equal(t, "owner fired 2 shots!", res.Message)
}

func TestNewIdentityGetsInitialCredits(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "newbie", X: 1, Y: 1, Shots: 2})
	require.NoError(t, res.Err)
	assert.Equal(t, Credits(3), res.Remaining)
}

func TestDispatchedCoordinatesIncludeOffsets(t *testing.T) {
	cfg := DefaultGunConfig()
	cfg.HorizontalOffset = 5
	cfg.VerticalOffset = -3
	h := newHarness(t, cfg, Options{Owners: []string{"owner"}})

	for _, req := range []fireCall{{10, 20, 1}, {-50, 3, 1}, {0, 63, 1}} {
		res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: req.X, Y: req.Y, Shots: req.Shots})
		require.NoError(t, res.Err)
	}
	assert.Equal(t, []fireCall{{15, 17, 1}, {-45, 0, 1}, {5, 60, 1}}, h.dev.calls())
}

func TestKOFaultsAndBillsZero(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 0, Balance: 5})
	h.dev.setStatuses("busy", "ko")

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", X: 0, Y: 10, Shots: 2})
	assert.Equal(t, StateFaulted, res.Status)
	assert.Zero(t, res.Fired)
	assert.True(t, errors.IsKind(res.Err, errors.KindDevice))
	assert.ErrorIs(t, res.Err, client.ErrDeviceKO)
	assert.Equal(t, aggregate.PhaseKO, h.svc.Snapshot().Phase)
	assert.Equal(t, int64(5), h.account(t, "viewer").Balance)
	assert.Zero(t, h.ledger.Pending("viewer"))
}

func TestFaultBlocksUntilReset(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}})
	h.dev.setStatuses("ko")

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	require.Equal(t, StateFaulted, res.Status)
	require.Len(t, h.dev.calls(), 1)

	h.dev.setStatuses("idle")
	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	assert.Equal(t, StateRejected, res.Status)
	assert.True(t, errors.IsKind(res.Err, errors.KindDevice))
	assert.Len(t, h.dev.calls(), 1, "faulted device must not be dispatched")

	h.arb.Reset()
	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	assert.Equal(t, StateSettled, res.Status)
	assert.Len(t, h.dev.calls(), 2)
}

func TestStopClearsFault(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}})
	h.dev.setStatuses("error")
	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	require.Equal(t, StateFaulted, res.Status)

	msg, err := h.arb.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Nerf gun stopped", msg)
	assert.False(t, h.svc.Faulted())
}

func TestAwaitTimeoutBillsZero(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{AwaitTimeout: 40 * time.Millisecond, PollInterval: 2 * time.Millisecond})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 100})
	h.dev.setStatuses("busy")

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 3})
	assert.Equal(t, StateFaulted, res.Status)
	assert.Zero(t, res.Fired)
	assert.ErrorIs(t, res.Err, client.ErrAwaitTimeout)
	assert.Equal(t, int64(100), h.account(t, "viewer").Balance)
	assert.Equal(t, aggregate.PhaseError, h.svc.Snapshot().Phase)
}

func TestCallerCancelMidBurstStillSettles(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 100})
	busy := make([]string, 20)
	for i := range busy {
		busy[i] = "busy"
	}
	h.dev.setStatuses(append(busy, "idle")...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := h.arb.HandleFireIntent(ctx, FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 3})
	require.Error(t, ctx.Err(), "caller context should have expired during the burst")
	require.NoError(t, res.Err)
	assert.Equal(t, StateSettled, res.Status)
	assert.Equal(t, 3, res.Fired)
	assert.Equal(t, int64(70), h.account(t, "viewer").Balance)
	assert.Zero(t, h.ledger.Pending("viewer"))
	assert.False(t, h.svc.Faulted())

	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 1})
	require.NoError(t, res.Err)
	assert.Equal(t, StateSettled, res.Status)
	assert.Len(t, h.dev.calls(), 2)
}

func TestShutdownAbandonsBurstWithoutFault(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 100})
	h.dev.setStatuses("busy")

	done := make(chan FireResult, 1)
	go func() {
		done <- h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 3})
	}()
	require.Eventually(t, func() bool { return len(h.dev.calls()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.arb.Shutdown(context.Background()))

	select {
	case res := <-done:
		assert.Zero(t, res.Fired)
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("burst outlived Shutdown")
	}
	assert.Equal(t, int64(100), h.account(t, "viewer").Balance)
	assert.Zero(t, h.ledger.Pending("viewer"))
	assert.False(t, h.svc.Faulted())
}

func TestConcurrentIntentsFromOneIdentity(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.seed(t, model.Account{IdentityID: "viewer", Tier: 1, Balance: 10})

	results := make(chan FireResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "viewer", Tier: 1, X: 0, Y: 10, Shots: 1})
		}()
	}
	wg.Wait()
	close(results)

	var settled, short int
	for res := range results {
		switch res.Status {
		case StateSettled:
			settled++
		case StateRejected:
			var insufficient *ledger.InsufficientCreditsError
			if stderrors.As(res.Err, &insufficient) {
				short++
			}
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, short)
	assert.Zero(t, h.account(t, "viewer").Balance)
	assert.Len(t, h.dev.calls(), 1)
}

func TestLocalRejections(t *testing.T) {
	cfg := DefaultGunConfig()
	h := newHarness(t, cfg, Options{FollowerRequired: true})

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "v", IsFollower: true, X: 0, Y: 10, Shots: 0})
	assert.Equal(t, StateRejected, res.Status)
	assert.True(t, errors.IsKind(res.Err, errors.KindValidation))

	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "v", IsFollower: true, X: 90, Y: 10, Shots: 1})
	assert.Equal(t, "Fire command out of bounds. Horizontal: -45 to 45, Vertical: 0 to 60", res.Message)

	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "v", DisplayName: "Vee", X: 0, Y: 10, Shots: 1})
	assert.True(t, errors.IsKind(res.Err, errors.KindAuthorization))
	assert.Equal(t, "@Vee, you need to be a follower to use the Nerf gun! Follow the channel and try again.", res.Message)

	cfg.Active = false
	require.NoError(t, h.config.Update(context.Background(), cfg))
	res = h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "v", IsFollower: true, X: 0, Y: 10, Shots: 1})
	assert.Equal(t, StateRejected, res.Status)

	assert.Empty(t, h.dev.calls())
	_, err := h.store.GetAccount(context.Background(), "v")
	assert.Error(t, err, "rejections before authorization do not create accounts")
}

func TestCancelledWhileWaitingForDevice(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}})
	require.True(t, h.arb.tryAcquire())
	defer h.arb.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := h.arb.HandleFireIntent(ctx, FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	assert.Equal(t, StateRejected, res.Status)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Empty(t, h.dev.calls())
}

func TestTerminalStatesArePublished(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	topics := map[string]eventbus.FireEventData{}
	for _, topic := range []string{eventbus.EventGunSettled, eventbus.EventGunRejected, eventbus.EventGunFaulted} {
		topic := topic
		require.NoError(t, bus.Subscribe(topic, func(data eventbus.FireEventData) {
			mu.Lock()
			topics[topic] = data
			mu.Unlock()
		}))
	}
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}, Publisher: bus})

	h.arb.HandleFireIntent(context.Background(), FireIntent{ID: "ok", IdentityID: "owner", X: 1, Y: 2, Shots: 1})
	h.arb.HandleFireIntent(context.Background(), FireIntent{ID: "oob", IdentityID: "owner", X: 100, Y: 2, Shots: 1})
	h.dev.setStatuses("ko")
	h.arb.HandleFireIntent(context.Background(), FireIntent{ID: "ko", IdentityID: "owner", X: 1, Y: 2, Shots: 1})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ok", topics[eventbus.EventGunSettled].IntentID)
	assert.Equal(t, "unlimited", topics[eventbus.EventGunSettled].Remaining)
	assert.Equal(t, "oob", topics[eventbus.EventGunRejected].IntentID)
	assert.Equal(t, "ko", topics[eventbus.EventGunFaulted].IntentID)
	assert.Equal(t, "ko", topics[eventbus.EventGunFaulted].Phase)
}

func TestShutdownRejectsLateIntents(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{Owners: []string{"owner"}})
	assert.True(t, h.arb.watchdog.Running())

	require.NoError(t, h.arb.Shutdown(context.Background()))
	require.NoError(t, h.arb.Shutdown(context.Background()))
	assert.False(t, h.arb.watchdog.Running())

	res := h.arb.HandleFireIntent(context.Background(), FireIntent{IdentityID: "owner", X: 0, Y: 10, Shots: 1})
	assert.Equal(t, StateRejected, res.Status)
	assert.Empty(t, h.dev.calls())
}

func TestStatusReportsLivePhase(t *testing.T) {
	h := newHarness(t, DefaultGunConfig(), Options{})
	h.dev.setStatuses("busy")

	st := h.arb.Status(context.Background())
	assert.Equal(t, aggregate.PhaseBusy, st.LivePhase)
	assert.Equal(t, aggregate.PhaseBusy, st.Session.Phase)
	assert.True(t, st.WatchdogRunning)
	assert.False(t, st.Busy)
	assert.Equal(t, DefaultGunConfig(), st.Config)
}

var _ Device = (*service.DeviceService)(nil)
