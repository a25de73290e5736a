package gun

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/device/client"
	"nerfbot-server-go/internal/domain/device/service"
	"nerfbot-server-go/internal/domain/ledger"
	"nerfbot-server-go/internal/domain/ledger/model"
	"nerfbot-server-go/internal/domain/ledger/store"
)

type fireCall struct{ X, Y, Shots int }

// fakeDevice serves the launcher protocol. statuses is consumed one entry
// per /status poll; the last entry repeats. echo overrides the shot count
// the device reports back.
type fakeDevice struct {
	mu       sync.Mutex
	fires    []fireCall
	statuses []string
	clamp    int
	echo     int
	stops    int
}

func (d *fakeDevice) setStatuses(s ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = s
}

func (d *fakeDevice) calls() []fireCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fireCall(nil), d.fires...)
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch r.URL.Path {
	case "/nerf":
		q := r.URL.Query()
		x, _ := strconv.Atoi(q.Get("x"))
		y, _ := strconv.Atoi(q.Get("y"))
		shots, _ := strconv.Atoi(q.Get("shots"))
		d.fires = append(d.fires, fireCall{x, y, shots})
		if d.clamp > 0 && shots > d.clamp {
			shots = d.clamp
		}
		if d.echo > 0 {
			shots = d.echo
		}
		fmt.Fprintf(w, `{"message":"x:%d y:%d shots:%d"}`, x, y, shots)
	case "/status":
		status := "idle"
		if len(d.statuses) > 0 {
			status = d.statuses[0]
			if len(d.statuses) > 1 {
				d.statuses = d.statuses[1:]
			}
		}
		fmt.Fprintf(w, `{"status":%q}`, status)
	case "/stop":
		d.stops++
		d.statuses = nil
		_, _ = w.Write([]byte("Nerf gun stopped"))
	default:
		http.NotFound(w, r)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	arb    *Arbitrator
	dev    *fakeDevice
	svc    *service.DeviceService
	ledger *ledger.Ledger
	store  store.Store
	config *ConfigState
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg GunConfig, opts Options) *harness {
	t.Helper()
	dev := &fakeDevice{}
	srv := httptest.NewServer(dev)
	t.Cleanup(srv.Close)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := client.New(client.Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		PollInterval:   2 * time.Millisecond,
		AwaitTimeout:   time.Second,
	}, nil)
	svc := service.NewDeviceService(c, clock.Now)

	st := store.NewMemory()
	ldg := ledger.New(st, nil)
	state, err := NewConfigState(context.Background(), nil, cfg)
	require.NoError(t, err)

	if opts.WatchdogInterval == 0 {
		opts.WatchdogInterval = time.Hour
	}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	arb := NewArbitrator(svc, ldg, state, opts)
	t.Cleanup(func() { _ = arb.Shutdown(context.Background()) })

	return &harness{arb: arb, dev: dev, svc: svc, ledger: ldg, store: st, config: state, clock: clock}
}

func (h *harness) seed(t *testing.T, acct model.Account) {
	t.Helper()
	require.NoError(t, h.store.PutAccount(context.Background(), acct))
}

func (h *harness) account(t *testing.T, id string) model.Account {
	t.Helper()
	acct, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

// MockCreditLedger 模拟账本
type MockCreditLedger struct {
	mock.Mock
}

func (m *MockCreditLedger) AuthorizeAndReserve(ctx context.Context, identityID string, tier, shots int) (*ledger.Reservation, error) {
	args := m.Called(ctx, identityID, tier, shots)
	r, _ := args.Get(0).(*ledger.Reservation)
	return r, args.Error(1)
}

func (m *MockCreditLedger) Settle(ctx context.Context, r *ledger.Reservation, shotsFired int) (model.Account, error) {
	args := m.Called(ctx, r, shotsFired)
	return args.Get(0).(model.Account), args.Error(1)
}

func (m *MockCreditLedger) Release(r *ledger.Reservation) {
	m.Called(r)
}
