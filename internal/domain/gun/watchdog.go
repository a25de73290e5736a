package gun

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nerfbot-server-go/internal/domain/eventbus"
)

const (
	watchdogTag = "看门狗"

	DefaultWatchdogInterval = 5 * time.Second
)

// Watchdog returns an idle device to its home pose. It only ever try-locks
// the device slot, so it never queues behind a user fire.
type Watchdog struct {
	arb      *Arbitrator
	interval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func newWatchdog(arb *Arbitrator, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{arb: arb, interval: interval, done: make(chan struct{})}
}

func (w *Watchdog) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running.Store(true)
	go w.loop(ctx)
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Running reports whether the loop is alive.
func (w *Watchdog) Running() bool { return w.running.Load() }

// stop cancels the loop and waits for it, bounded by ctx.
func (w *Watchdog) stop(ctx context.Context) error {
	w.once.Do(func() { w.cancel() })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one watchdog pass and reports whether a recenter succeeded.
func (w *Watchdog) tick(ctx context.Context) bool {
	a := w.arb
	cfg := a.config.Current()
	if !cfg.Active {
		active, err := a.config.RefreshActive(ctx)
		if err != nil {
			w.warn("failed to reload active flag: %v", err)
		} else if active {
			w.info("gun re-activated")
		}
		return false
	}
	if a.device.Faulted() || !a.device.ShouldRecenter(cfg.IdleTimeout()) {
		return false
	}
	if !a.tryAcquire() {
		return false
	}
	defer a.release()

	// a user fire may have completed between the check and the lock
	if !a.device.ShouldRecenter(cfg.IdleTimeout()) {
		return false
	}

	ok := w.recenter(ctx, cfg)
	a.metrics.Recentered(ok)
	a.metrics.DevicePhase(string(a.device.Snapshot().Phase))
	return ok
}

func (w *Watchdog) recenter(ctx context.Context, cfg GunConfig) bool {
	a := w.arb
	event := eventbus.RecenterEventData{X: cfg.HomeX, Y: cfg.HomeY}
	defer func() {
		event.At = a.now()
		if a.publisher != nil {
			a.publisher.Publish(eventbus.EventWatchdogRecenter, event)
		}
	}()

	if _, err := a.device.Dispatch(ctx, cfg.HomeX, cfg.HomeY, 0); err != nil {
		w.warn("recenter to (%d,%d) failed: %v", cfg.HomeX, cfg.HomeY, err)
		event.Error = err.Error()
		return false
	}
	settled := a.device.Await(ctx, 0, a.awaitTimeout, a.pollInterval)
	if !settled.OK {
		w.warn("recenter did not settle, phase %s: %v", settled.Phase, settled.Err)
		if settled.Err != nil {
			event.Error = settled.Err.Error()
		}
		return false
	}

	a.device.MarkHome()
	event.OK = true
	w.info("device returned home to (%d,%d)", cfg.HomeX, cfg.HomeY)
	return true
}

func (w *Watchdog) info(msg string, args ...any) {
	if w.arb.logger != nil {
		w.arb.logger.InfoTag(watchdogTag, msg, args...)
	}
}

func (w *Watchdog) warn(msg string, args ...any) {
	if w.arb.logger != nil {
		w.arb.logger.WarnTag(watchdogTag, msg, args...)
	}
}
