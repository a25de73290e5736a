package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"nerfbot-server-go/internal/domain/device/aggregate"
	"nerfbot-server-go/internal/platform/errors"
)

const (
	logTag = "设备"

	DefaultRequestTimeout = 5 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultAwaitTimeout   = 45 * time.Second

	maxBodyBytes = 64 << 10
)

var (
	ErrAwaitTimeout   = stderrors.New("device did not return to idle before timeout")
	ErrMalformedReply = stderrors.New("device reply does not contain an accepted shot count")
	ErrUnknownStatus  = stderrors.New("device reported an unknown status")
	ErrDeviceKO       = stderrors.New("device reported ko")
	ErrDeviceError    = stderrors.New("device reported error")
)

var shotsPattern = regexp.MustCompile(`(?i)\bshots?\s*[:=]\s*(\d+)`)

// Logger is the logging contract used by the device client.
type Logger interface {
	DebugTag(tag, msg string, args ...any)
	WarnTag(tag, msg string, args ...any)
}

// Config 设备客户端配置
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	AwaitTimeout   time.Duration
}

// Accepted is the device acknowledgement of a fire command. Shots is the
// count the device actually scheduled.
type Accepted struct {
	Message string `json:"message"`
	Shots   int    `json:"shots"`
}

// Settled is the outcome of AwaitIdle.
type Settled struct {
	Phase aggregate.Phase
	Shots int
	OK    bool
	Err   error
}

// Error is a device-level failure. Phase is the synthetic phase the failure
// maps to; StatusCode is set when the device answered with a non-200.
type Error struct {
	Op         string
	Phase      aggregate.Phase
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("device %s: phase=%s status=%d: %v", e.Op, e.Phase, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("device %s: phase=%s: %v", e.Op, e.Phase, e.Cause)
}

func (e *Error) Unwrap() error {
	return &errors.Error{Kind: errors.KindDevice, Op: "device." + e.Op, Message: string(e.Phase), Cause: e.Cause}
}

// Client speaks the launcher's HTTP protocol. It never retries.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	awaitTimeout time.Duration
	logger       Logger
}

func New(cfg Config, logger Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	await := cfg.AwaitTimeout
	if await <= 0 {
		await = DefaultAwaitTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: poll,
		awaitTimeout: await,
		logger:       logger,
	}
}

func (c *Client) PollInterval() time.Duration { return c.pollInterval }
func (c *Client) AwaitTimeout() time.Duration { return c.awaitTimeout }

func (c *Client) get(ctx context.Context, op, path string, query url.Values) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, &Error{Op: op, Phase: aggregate.PhaseError, Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &Error{Op: op, Phase: aggregate.PhaseError, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Op: op, Phase: aggregate.PhaseError, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body)))
		return resp.StatusCode, body, &Error{Op: op, Phase: aggregate.PhaseError, StatusCode: resp.StatusCode, Cause: cause}
	}
	return resp.StatusCode, body, nil
}

// SendFire asks the device to aim at (x, y) and fire shots. A zero shot
// count only moves the device.
func (c *Client) SendFire(ctx context.Context, x, y, shots int) (Accepted, error) {
	query := url.Values{}
	query.Set("x", strconv.Itoa(x))
	query.Set("y", strconv.Itoa(y))
	query.Set("shots", strconv.Itoa(shots))

	_, body, err := c.get(ctx, "send_fire", "/nerf", query)
	if err != nil {
		c.warn("fire x=%d y=%d shots=%d failed: %v", x, y, shots, err)
		return Accepted{}, err
	}

	accepted, err := parseAccepted(body)
	if err != nil {
		return Accepted{}, &Error{Op: "send_fire", Phase: aggregate.PhaseError, StatusCode: http.StatusOK, Cause: err}
	}
	c.debug("fire x=%d y=%d accepted %d/%d shots", x, y, accepted.Shots, shots)
	return accepted, nil
}

// parseAccepted reads the accepted shot count from a JSON {"message": ...}
// body or from free text.
func parseAccepted(body []byte) (Accepted, error) {
	text := strings.TrimSpace(string(body))
	var payload struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		text = payload.Message
	}

	m := shotsPattern.FindStringSubmatch(text)
	if m == nil {
		return Accepted{}, fmt.Errorf("%w: %q", ErrMalformedReply, text)
	}
	shots, err := strconv.Atoi(m[1])
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return Accepted{Message: text, Shots: shots}, nil
}

// PollStatus performs a single status read. Failures are reported as
// PhaseError together with the cause.
func (c *Client) PollStatus(ctx context.Context) (aggregate.Phase, error) {
	_, body, err := c.get(ctx, "poll_status", "/status", nil)
	if err != nil {
		return aggregate.PhaseError, err
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return aggregate.PhaseError, &Error{Op: "poll_status", Phase: aggregate.PhaseError, StatusCode: http.StatusOK, Cause: err}
	}
	phase, known := aggregate.ParsePhase(payload.Status)
	if !known {
		return phase, &Error{
			Op:         "poll_status",
			Phase:      aggregate.PhaseError,
			StatusCode: http.StatusOK,
			Cause:      fmt.Errorf("%w: %q", ErrUnknownStatus, payload.Status),
		}
	}
	return phase, nil
}

// AwaitIdle polls until the device reports idle, ko or error, or until
// timeout. Idle yields expected shots; every other outcome yields zero.
// Non-positive timeout or interval use the client defaults.
func (c *Client) AwaitIdle(ctx context.Context, expected int, timeout, interval time.Duration) Settled {
	if timeout <= 0 {
		timeout = c.awaitTimeout
	}
	if interval <= 0 {
		interval = c.pollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := aggregate.PhaseBusy
	for {
		phase, err := c.PollStatus(ctx)
		if err != nil && ctx.Err() != nil {
			return c.timedOut(ctx, last)
		}
		if err != nil {
			c.warn("status poll failed: %v", err)
			return Settled{Phase: aggregate.PhaseError, OK: false, Err: err}
		}

		last = phase
		switch phase {
		case aggregate.PhaseIdle:
			return Settled{Phase: phase, Shots: expected, OK: true}
		case aggregate.PhaseKO:
			return Settled{Phase: phase, Err: &Error{Op: "await_idle", Phase: phase, Cause: ErrDeviceKO}}
		case aggregate.PhaseError:
			return Settled{Phase: phase, Err: &Error{Op: "await_idle", Phase: phase, Cause: ErrDeviceError}}
		}

		select {
		case <-ctx.Done():
			return c.timedOut(ctx, last)
		case <-ticker.C:
		}
	}
}

func (c *Client) timedOut(ctx context.Context, last aggregate.Phase) Settled {
	cause := ErrAwaitTimeout
	if stderrors.Is(ctx.Err(), context.Canceled) {
		cause = context.Canceled
	}
	c.warn("await idle gave up in phase %s: %v", last, cause)
	return Settled{Phase: last, Err: &Error{Op: "await_idle", Phase: last, Cause: cause}}
}

// SendStop forces the device to idle and returns its confirmation text.
func (c *Client) SendStop(ctx context.Context) (string, error) {
	_, body, err := c.get(ctx, "send_stop", "/stop", nil)
	if err != nil {
		c.warn("stop failed: %v", err)
		return "", err
	}
	text := strings.TrimSpace(string(body))
	var payload struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		text = payload.Message
	}
	return text, nil
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.DebugTag(logTag, msg, args...)
	}
}

func (c *Client) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.WarnTag(logTag, msg, args...)
	}
}
