package gun

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nerfbot-server-go/internal/domain/device/aggregate"
	"nerfbot-server-go/internal/domain/device/client"
	"nerfbot-server-go/internal/domain/eventbus"
	"nerfbot-server-go/internal/domain/ledger"
	"nerfbot-server-go/internal/domain/ledger/model"
	"nerfbot-server-go/internal/platform/errors"
	"nerfbot-server-go/internal/platform/observability"
)

const (
	fireTag = "开火"

	DefaultSettleTimeout = 5 * time.Second
)

// Device is the device session as seen by the arbitrator and the watchdog.
// service.DeviceService implements it.
type Device interface {
	Dispatch(ctx context.Context, x, y, shots int) (client.Accepted, error)
	Await(ctx context.Context, expected int, timeout, interval time.Duration) client.Settled
	Stop(ctx context.Context) (string, error)
	Reset()
	Refresh(ctx context.Context) (aggregate.Phase, error)
	Snapshot() aggregate.SessionSnapshot
	Faulted() bool
	ShouldRecenter(idle time.Duration) bool
	MarkHome()
}

// CreditLedger is the subset of ledger.Ledger used by the arbitrator.
type CreditLedger interface {
	AuthorizeAndReserve(ctx context.Context, identityID string, tier, shots int) (*ledger.Reservation, error)
	Settle(ctx context.Context, r *ledger.Reservation, shotsFired int) (model.Account, error)
	Release(r *ledger.Reservation)
}

// Publisher receives terminal intent and recenter events.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

type Logger interface {
	DebugTag(tag, msg string, args ...any)
	InfoTag(tag, msg string, args ...any)
	WarnTag(tag, msg string, args ...any)
	ErrorTag(tag, msg string, args ...any)
}

// Options tunes an Arbitrator. Zero values select defaults.
type Options struct {
	Owners           []string
	FollowerRequired bool
	AwaitTimeout     time.Duration
	PollInterval     time.Duration
	SettleTimeout    time.Duration
	WatchdogInterval time.Duration
	Publisher        Publisher
	Metrics          *observability.Metrics
	Logger           Logger
	Now              func() time.Time
}

// Arbitrator is the single entry point for fire intents. It owns the
// device slot and the watchdog.
type Arbitrator struct {
	device Device
	ledger CreditLedger
	config *ConfigState

	owners           map[string]struct{}
	followerRequired bool
	awaitTimeout     time.Duration
	pollInterval     time.Duration
	settleTimeout    time.Duration

	publisher Publisher
	metrics   *observability.Metrics
	logger    Logger
	now       func() time.Time

	// slot holds a token while a device operation is in flight.
	slot chan struct{}

	// lifetime bounds device operations; only Shutdown cancels it.
	lifetime    context.Context
	endLifetime context.CancelFunc

	watchdog     *Watchdog
	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewArbitrator builds the arbitrator and starts its watchdog.
func NewArbitrator(device Device, credits CreditLedger, config *ConfigState, opts Options) *Arbitrator {
	a := &Arbitrator{
		device:           device,
		ledger:           credits,
		config:           config,
		owners:           make(map[string]struct{}, len(opts.Owners)),
		followerRequired: opts.FollowerRequired,
		awaitTimeout:     opts.AwaitTimeout,
		pollInterval:     opts.PollInterval,
		settleTimeout:    opts.SettleTimeout,
		publisher:        opts.Publisher,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		now:              opts.Now,
		slot:             make(chan struct{}, 1),
	}
	for _, name := range opts.Owners {
		if name = strings.TrimSpace(name); name != "" {
			a.owners[strings.ToLower(name)] = struct{}{}
		}
	}
	if a.settleTimeout <= 0 {
		a.settleTimeout = DefaultSettleTimeout
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.lifetime, a.endLifetime = context.WithCancel(context.Background())

	a.watchdog = newWatchdog(a, opts.WatchdogInterval)
	a.watchdog.start()
	return a
}

func (a *Arbitrator) acquire(ctx context.Context) error {
	select {
	case a.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Arbitrator) tryAcquire() bool {
	select {
	case a.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (a *Arbitrator) release() { <-a.slot }

// IsOwner reports whether the intent belongs to a channel owner.
func (a *Arbitrator) IsOwner(intent FireIntent) bool {
	if intent.IsOwner {
		return true
	}
	for _, name := range []string{intent.IdentityID, intent.DisplayName} {
		if _, ok := a.owners[strings.ToLower(name)]; ok && name != "" {
			return true
		}
	}
	return false
}

// HandleFireIntent runs one intent through bounds, credits and the device.
// It never panics on domain failures; the outcome is always in FireResult.
func (a *Arbitrator) HandleFireIntent(ctx context.Context, intent FireIntent) (result FireResult) {
	intent = intent.withID()
	ctx, end := observability.StartSpan(ctx, "gun", "handle_fire_intent")
	defer func() { end(result.Err) }()

	a.debug(intent, StateReceived, "x=%d y=%d shots=%d", intent.X, intent.Y, intent.Shots)

	if a.closed.Load() {
		return a.reject(intent, errors.New(errors.KindDevice, "gun.fire", "arbitrator is shut down"),
			"The Nerf gun is offline.")
	}

	cfg := a.config.Current()
	if !cfg.Active {
		return a.reject(intent, errors.New(errors.KindValidation, "gun.fire", "gun is inactive"),
			"The Nerf gun is currently inactive.")
	}
	if intent.Shots <= 0 {
		return a.reject(intent, errors.New(errors.KindValidation, "gun.fire", "shot count must be positive"),
			"Shot count must be at least 1.")
	}
	point, err := Validate(intent.X, intent.Y, cfg)
	if err != nil {
		return a.reject(intent, err, err.Error())
	}
	a.debug(intent, StateBoundsChecked, "dispatch point (%d,%d)", point.X, point.Y)

	owner := a.IsOwner(intent)
	if !owner && a.followerRequired && !intent.IsFollower {
		return a.reject(intent, errors.New(errors.KindAuthorization, "gun.fire", "follower required"),
			fmt.Sprintf("@%s, you need to be a follower to use the Nerf gun! Follow the channel and try again.", intent.Name()))
	}
	if a.device.Faulted() {
		return a.rejectFaulted(intent)
	}

	var reservation *ledger.Reservation
	if !owner {
		reservation, err = a.ledger.AuthorizeAndReserve(ctx, intent.IdentityID, intent.Tier, intent.Shots)
		if err != nil {
			var short *ledger.InsufficientCreditsError
			if stderrors.As(err, &short) {
				return a.reject(intent, err, fmt.Sprintf("%s doesn't have enough credits. Required: %d, Available: %d",
					intent.Name(), short.Required, short.Available))
			}
			return a.reject(intent, err, fmt.Sprintf("Failed to check credits for %s.", intent.Name()))
		}
	}
	a.debug(intent, StateAuthorized, "owner=%t", owner)

	if err := a.acquire(ctx); err != nil {
		a.ledger.Release(reservation)
		return a.reject(intent, errors.Wrap(errors.KindDevice, "gun.fire", "gave up waiting for the device", err),
			"The Nerf gun is busy, try again later.")
	}
	opCtx, done := a.deviceContext(ctx)
	settled, dispatchErr := a.dispatch(opCtx, intent, point)
	done()
	a.release()

	if dispatchErr != nil || !settled.OK {
		a.ledger.Release(reservation)
		cause := dispatchErr
		if cause == nil {
			cause = errors.Wrap(errors.KindDevice, "gun.fire", "device did not settle", settled.Err)
		}
		return a.fault(intent, point, cause)
	}

	return a.settle(ctx, intent, point, owner, reservation, settled.Shots)
}

// deviceContext keeps the caller's values but not its cancellation: once a
// burst is dispatched it runs to a device verdict even if the caller hangs
// up. The await timeout and Shutdown still bound it.
func (a *Arbitrator) deviceContext(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(a.lifetime, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// dispatch must be called with the slot held.
func (a *Arbitrator) dispatch(ctx context.Context, intent FireIntent, point Point) (client.Settled, error) {
	if a.device.Faulted() {
		return client.Settled{}, errors.New(errors.KindDevice, "gun.fire", "device faulted while waiting")
	}
	start := a.now()
	accepted, err := a.device.Dispatch(ctx, point.X, point.Y, intent.Shots)
	if err != nil {
		return client.Settled{}, err
	}
	shots := clampShots(accepted.Shots, intent.Shots)
	a.debug(intent, StateDispatched, "device accepted %d/%d shots: %s", shots, intent.Shots, accepted.Message)

	settled := a.device.Await(ctx, shots, a.awaitTimeout, a.pollInterval)
	if settled.Shots > shots {
		settled.Shots = shots
	}
	a.metrics.DispatchObserved(a.now().Sub(start))
	return settled, nil
}

// clampShots bounds the device's echoed count to what was requested.
func clampShots(accepted, requested int) int {
	if accepted > requested {
		return requested
	}
	if accepted < 0 {
		return 0
	}
	return accepted
}

func (a *Arbitrator) settle(ctx context.Context, intent FireIntent, point Point, owner bool, r *ledger.Reservation, fired int) FireResult {
	result := FireResult{
		IntentID: intent.ID,
		Status:   StateSettled,
		Fired:    fired,
		Message:  fmt.Sprintf("%s fired %d shots!", intent.Name(), fired),
	}
	var cost int64
	if owner {
		result.Remaining = Unlimited()
	} else {
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.settleTimeout)
		acct, err := a.ledger.Settle(settleCtx, r, fired)
		cancel()
		if err != nil {
			// 设备已开火但扣费失败，需要人工对账
			a.logError("intent %s fired %d shots for %s but settlement failed: %v", intent.ID, fired, intent.IdentityID, err)
			result.Status = StateFaulted
			result.Err = err
			result.Message = fmt.Sprintf("%s fired %d shots, but the credit update failed.", intent.Name(), fired)
			a.finish(intent, point, result, 0)
			return result
		}
		cost = r.PricePerShot * int64(fired)
		result.Remaining = Credits(acct.Available())
	}
	result.Whisper = fmt.Sprintf("You have %s credits remaining.", result.Remaining)

	if a.logger != nil {
		a.logger.InfoTag(fireTag, "%s fired %d/%d shots at (%d,%d), remaining %s",
			intent.IdentityID, fired, intent.Shots, point.X, point.Y, result.Remaining)
	}
	a.metrics.ShotsFired(fired)
	a.finish(intent, point, result, cost)
	return result
}

func (a *Arbitrator) reject(intent FireIntent, err error, message string) FireResult {
	result := FireResult{IntentID: intent.ID, Status: StateRejected, Message: message, Err: err}
	if a.logger != nil {
		a.logger.InfoTag(fireTag, "rejected intent %s from %s: %v", intent.ID, intent.IdentityID, err)
	}
	a.finish(intent, Point{X: intent.X, Y: intent.Y}, result, 0)
	return result
}

func (a *Arbitrator) rejectFaulted(intent FireIntent) FireResult {
	snap := a.device.Snapshot()
	err := errors.New(errors.KindDevice, "gun.fire", fmt.Sprintf("device is faulted (%s)", snap.Phase))
	return a.reject(intent, err, "The Nerf gun is out of order until an operator resets it.")
}

func (a *Arbitrator) fault(intent FireIntent, point Point, cause error) FireResult {
	snap := a.device.Snapshot()
	result := FireResult{
		IntentID: intent.ID,
		Status:   StateFaulted,
		Message:  fmt.Sprintf("The Nerf gun reported a problem (%s). %s was not charged.", snap.Phase, intent.Name()),
		Err:      cause,
	}
	a.logError("intent %s faulted in phase %s: %v", intent.ID, snap.Phase, cause)
	a.finish(intent, point, result, 0)
	return result
}

func (a *Arbitrator) finish(intent FireIntent, point Point, result FireResult, cost int64) {
	a.metrics.IntentObserved(string(result.Status))
	phase := a.device.Snapshot().Phase
	a.metrics.DevicePhase(string(phase))

	if a.publisher == nil {
		return
	}
	topic := eventbus.EventGunSettled
	switch result.Status {
	case StateRejected:
		topic = eventbus.EventGunRejected
	case StateFaulted:
		topic = eventbus.EventGunFaulted
	}
	data := eventbus.FireEventData{
		IntentID:    intent.ID,
		IdentityID:  intent.IdentityID,
		DisplayName: intent.DisplayName,
		Status:      string(result.Status),
		X:           point.X,
		Y:           point.Y,
		Requested:   intent.Shots,
		Fired:       result.Fired,
		Cost:        cost,
		Message:     result.Message,
		Phase:       string(phase),
		At:          a.now(),
	}
	if result.Status == StateSettled {
		data.Remaining = result.Remaining.String()
	}
	if result.Err != nil {
		data.Error = result.Err.Error()
	}
	a.publisher.Publish(topic, data)
}

// Stop sends the emergency stop and clears any recorded fault. It does not
// wait for the device slot.
func (a *Arbitrator) Stop(ctx context.Context) (string, error) {
	msg, err := a.device.Stop(ctx)
	if err != nil {
		a.logError("emergency stop failed: %v", err)
		return "", err
	}
	if a.logger != nil {
		a.logger.WarnTag(fireTag, "emergency stop: %s", msg)
	}
	a.metrics.DevicePhase(string(a.device.Snapshot().Phase))
	return msg, nil
}

// Reset clears a recorded fault without contacting the device.
func (a *Arbitrator) Reset() {
	a.device.Reset()
	if a.logger != nil {
		a.logger.InfoTag(fireTag, "device fault cleared by operator")
	}
	a.metrics.DevicePhase(string(a.device.Snapshot().Phase))
}

// Status is the admin view of the gun.
type Status struct {
	Config          GunConfig                 `json:"config"`
	Session         aggregate.SessionSnapshot `json:"session"`
	LivePhase       aggregate.Phase           `json:"live_phase,omitempty"`
	LiveError       string                    `json:"live_error,omitempty"`
	Busy            bool                      `json:"busy"`
	WatchdogRunning bool                      `json:"watchdog_running"`
}

// Status reports config, session state and a live status read.
func (a *Arbitrator) Status(ctx context.Context) Status {
	st := Status{
		Config:          a.config.Current(),
		Busy:            len(a.slot) > 0,
		WatchdogRunning: a.watchdog.Running(),
	}
	phase, err := a.device.Refresh(ctx)
	st.LivePhase = phase
	if err != nil {
		st.LiveError = err.Error()
	}
	st.Session = a.device.Snapshot()
	return st
}

// Config returns the gun configuration state shared with the watchdog.
func (a *Arbitrator) Config() *ConfigState { return a.config }

// Shutdown stops the watchdog and waits for it. Intents arriving afterwards
// are rejected.
func (a *Arbitrator) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.closed.Store(true)
		a.endLifetime()
		a.shutdownErr = a.watchdog.stop(ctx)
	})
	return a.shutdownErr
}

func (a *Arbitrator) debug(intent FireIntent, state State, msg string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.DebugTag(fireTag, "[%s] %s: "+msg, append([]any{intent.ID, state}, args...)...)
}

func (a *Arbitrator) logError(msg string, args ...any) {
	if a.logger != nil {
		a.logger.ErrorTag(fireTag, msg, args...)
	}
}
