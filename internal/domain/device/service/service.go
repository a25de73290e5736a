package service

import (
	"context"
	stderrors "errors"
	"time"

	"nerfbot-server-go/internal/domain/device/aggregate"
	"nerfbot-server-go/internal/domain/device/client"
	"nerfbot-server-go/internal/platform/errors"
)

// Transport is the wire-level contract implemented by client.Client.
type Transport interface {
	SendFire(ctx context.Context, x, y, shots int) (client.Accepted, error)
	PollStatus(ctx context.Context) (aggregate.Phase, error)
	AwaitIdle(ctx context.Context, expected int, timeout, interval time.Duration) client.Settled
	SendStop(ctx context.Context) (string, error)
}

// DeviceService 设备领域服务，维护单台发射器的会话
type DeviceService struct {
	transport Transport
	session   *aggregate.Session
	now       func() time.Time
}

// NewDeviceService 创建设备服务
func NewDeviceService(transport Transport, now func() time.Time) *DeviceService {
	if now == nil {
		now = time.Now
	}
	return &DeviceService{
		transport: transport,
		session:   aggregate.NewSession(now()),
		now:       now,
	}
}

// Dispatch sends one aim/fire command. Any dispatch, failed or not, engages
// the device and resets the idle clock.
func (s *DeviceService) Dispatch(ctx context.Context, x, y, shots int) (client.Accepted, error) {
	s.session.MarkDispatched(s.now())
	accepted, err := s.transport.SendFire(ctx, x, y, shots)
	if err != nil {
		s.session.RecordFault(aggregate.PhaseError, err)
		return client.Accepted{}, errors.Wrap(errors.KindDevice, "device.dispatch", "fire command rejected", err)
	}
	s.session.RecordPhase(aggregate.PhaseBusy)
	return accepted, nil
}

// Await waits for the device to settle and records the outcome. A timeout
// leaves the session in PhaseError; a cancelled wait records nothing since
// the device never answered.
func (s *DeviceService) Await(ctx context.Context, expected int, timeout, interval time.Duration) client.Settled {
	settled := s.transport.AwaitIdle(ctx, expected, timeout, interval)
	switch {
	case stderrors.Is(settled.Err, context.Canceled):
	case settled.OK:
		s.session.RecordPhase(aggregate.PhaseIdle)
	case settled.Phase.Faulted():
		s.session.RecordFault(settled.Phase, settled.Err)
	default:
		s.session.RecordFault(aggregate.PhaseError, settled.Err)
	}
	s.session.MarkDispatched(s.now())
	return settled
}

// Stop forces the device idle and clears any recorded fault.
func (s *DeviceService) Stop(ctx context.Context) (string, error) {
	msg, err := s.transport.SendStop(ctx)
	if err != nil {
		return "", errors.Wrap(errors.KindDevice, "device.stop", "stop command failed", err)
	}
	s.session.ClearFault()
	s.session.MarkDispatched(s.now())
	return msg, nil
}

// Reset clears a recorded fault without talking to the device.
func (s *DeviceService) Reset() {
	s.session.ClearFault()
}

// Refresh reads the live device status into the session. A recorded fault
// is only cleared by Stop or Reset, never by a healthy poll.
func (s *DeviceService) Refresh(ctx context.Context) (aggregate.Phase, error) {
	phase, err := s.transport.PollStatus(ctx)
	if err != nil {
		return phase, errors.Wrap(errors.KindDevice, "device.refresh", "status poll failed", err)
	}
	switch {
	case phase.Faulted():
		s.session.RecordFault(phase, nil)
	case !s.session.Faulted():
		s.session.RecordPhase(phase)
	}
	return phase, nil
}

func (s *DeviceService) Snapshot() aggregate.SessionSnapshot { return s.session.Snapshot() }

func (s *DeviceService) Faulted() bool { return s.session.Faulted() }

// ShouldRecenter reports whether the device has been idle for idle.
func (s *DeviceService) ShouldRecenter(idle time.Duration) bool {
	return s.session.ShouldRecenter(s.now(), idle)
}

func (s *DeviceService) MarkHome() { s.session.MarkHome() }
