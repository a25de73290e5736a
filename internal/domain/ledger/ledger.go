package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nerfbot-server-go/internal/domain/ledger/model"
	"nerfbot-server-go/internal/domain/ledger/store"
	"nerfbot-server-go/internal/platform/errors"
)

const logTag = "账本"

var (
	initialCredits = map[int]int64{0: 5, 1: 100, 2: 200, 3: 300}
	defaultPrices  = map[int]int64{0: 1, 1: 10, 2: 8, 3: 6}
)

const (
	fallbackInitialCredits int64 = 5
	fallbackPrice          int64 = 1
)

// InitialCredits is the starting balance for a tier.
func InitialCredits(tier int) int64 {
	if v, ok := initialCredits[tier]; ok {
		return v
	}
	return fallbackInitialCredits
}

// DefaultPrice is the per-shot price used when the store has no entry.
func DefaultPrice(tier int) int64 {
	if v, ok := defaultPrices[tier]; ok {
		return v
	}
	return fallbackPrice
}

// Reservation holds credits for one in-flight intent until Settle or Release.
type Reservation struct {
	ID           string
	IdentityID   string
	Tier         int
	Shots        int
	PricePerShot int64
	TotalCost    int64
}

// InsufficientCreditsError is returned by AuthorizeAndReserve when the
// available credits do not cover the requested shots.
type InsufficientCreditsError struct {
	IdentityID string
	Required   int64
	Available  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: required %d, available %d", e.IdentityID, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return errors.New(errors.KindAuthorization, "ledger.authorize", "insufficient credits")
}

// Ledger enforces the per-identity credit economy on top of a Store.
type Ledger struct {
	store  store.Store
	logger model.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*identityLock

	mu       sync.Mutex
	reserved map[string]map[string]int64 // identity -> reservation id -> cost
}

func New(s store.Store, logger model.Logger) *Ledger {
	return &Ledger{
		store:    s,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*identityLock),
		reserved: make(map[string]map[string]int64),
	}
}

// identityLock is dropped from the map once no caller holds or waits on it.
type identityLock struct {
	mu   sync.Mutex
	refs int
}

func (l *Ledger) lockIdentity(identityID string) func() {
	l.locksMu.Lock()
	lk, ok := l.locks[identityID]
	if !ok {
		lk = &identityLock{}
		l.locks[identityID] = lk
	}
	lk.refs++
	l.locksMu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.locksMu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, identityID)
		}
		l.locksMu.Unlock()
	}
}

// GetOrCreate returns the account, creating it with the tier's initial
// credits on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, identityID string, tier int) (model.Account, error) {
	acct, err := l.store.GetAccount(ctx, identityID)
	if err == nil {
		return acct, nil
	}
	if !stderrors.Is(err, store.ErrAccountNotFound) {
		return model.Account{}, errors.Wrap(errors.KindLedger, "ledger.get_account", "failed to read account", err)
	}

	now := l.now()
	acct, created, err := l.store.CreateAccount(ctx, model.Account{
		IdentityID:  identityID,
		Tier:        tier,
		Balance:     InitialCredits(tier),
		CreatedAt:   now,
		LastResetAt: now,
	})
	if err != nil {
		return model.Account{}, errors.Wrap(errors.KindLedger, "ledger.create_account", "failed to create account", err)
	}
	if created && l.logger != nil {
		l.logger.InfoTag(logTag, "创建账户 %s (tier=%d, balance=%d)", identityID, tier, acct.Balance)
	}
	return acct, nil
}

// PricePerShot reads the tier price, falling back to the default table.
func (l *Ledger) PricePerShot(ctx context.Context, tier int) int64 {
	price, err := l.store.GetTierPrice(ctx, tier)
	if err == nil && price > 0 {
		return price
	}
	if err != nil && !stderrors.Is(err, store.ErrPriceNotFound) && l.logger != nil {
		l.logger.WarnTag(logTag, "读取 tier %d 价格失败，使用默认价格: %v", tier, err)
	}
	return DefaultPrice(tier)
}

func (l *Ledger) pendingLocked(identityID string) int64 {
	var total int64
	for _, cost := range l.reserved[identityID] {
		total += cost
	}
	return total
}

// AuthorizeAndReserve checks that balance+bonus minus credits already held
// by in-flight intents covers shots at the tier price. The durable account
// is not modified.
func (l *Ledger) AuthorizeAndReserve(ctx context.Context, identityID string, tier, shots int) (*Reservation, error) {
	if shots <= 0 {
		return nil, errors.New(errors.KindValidation, "ledger.authorize", "shot count must be positive")
	}

	unlock := l.lockIdentity(identityID)
	defer unlock()

	acct, err := l.GetOrCreate(ctx, identityID, tier)
	if err != nil {
		return nil, err
	}
	price := l.PricePerShot(ctx, tier)
	cost := price * int64(shots)

	l.mu.Lock()
	defer l.mu.Unlock()
	available := acct.Available() - l.pendingLocked(identityID)
	if available < cost {
		return nil, &InsufficientCreditsError{IdentityID: identityID, Required: cost, Available: available}
	}

	r := &Reservation{
		ID:           uuid.NewString(),
		IdentityID:   identityID,
		Tier:         tier,
		Shots:        shots,
		PricePerShot: price,
		TotalCost:    cost,
	}
	if l.reserved[identityID] == nil {
		l.reserved[identityID] = make(map[string]int64)
	}
	l.reserved[identityID][r.ID] = cost
	return r, nil
}

// Release drops a reservation without billing. Releasing twice is a no-op.
func (l *Ledger) Release(r *Reservation) {
	if r == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	held := l.reserved[r.IdentityID]
	delete(held, r.ID)
	if len(held) == 0 {
		delete(l.reserved, r.IdentityID)
	}
}

// Settle bills shotsFired at the reserved price and releases the reservation.
// The debit is conditional in the store; a shortfall surfaces as a ledger
// error instead of a negative balance.
func (l *Ledger) Settle(ctx context.Context, r *Reservation, shotsFired int) (model.Account, error) {
	if r == nil {
		return model.Account{}, errors.New(errors.KindLedger, "ledger.settle", "nil reservation")
	}
	defer l.Release(r)

	if shotsFired > r.Shots {
		shotsFired = r.Shots
	}
	if shotsFired < 0 {
		shotsFired = 0
	}
	amount := r.PricePerShot * int64(shotsFired)

	unlock := l.lockIdentity(r.IdentityID)
	defer unlock()

	acct, err := l.store.Debit(ctx, r.IdentityID, amount)
	if err != nil {
		if l.logger != nil {
			l.logger.WarnTag(logTag, "结算失败 %s (amount=%d): %v", r.IdentityID, amount, err)
		}
		return acct, errors.Wrap(errors.KindLedger, "ledger.settle", fmt.Sprintf("failed to debit %d credits", amount), err)
	}
	return acct, nil
}

// GrantBonus adds amount to the bonus pool, creating a tier-0 account when
// the identity has never fired.
func (l *Ledger) GrantBonus(ctx context.Context, identityID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New(errors.KindValidation, "ledger.grant_bonus", "bonus amount must be positive")
	}
	unlock := l.lockIdentity(identityID)
	defer unlock()

	if _, err := l.GetOrCreate(ctx, identityID, 0); err != nil {
		return 0, err
	}
	acct, err := l.store.AddBonus(ctx, identityID, amount)
	if err != nil {
		return 0, errors.Wrap(errors.KindLedger, "ledger.grant_bonus", "failed to add bonus credits", err)
	}
	return acct.BonusBalance, nil
}

// Account returns the stored account without creating it.
func (l *Ledger) Account(ctx context.Context, identityID string) (model.Account, error) {
	acct, err := l.store.GetAccount(ctx, identityID)
	if err != nil {
		if stderrors.Is(err, store.ErrAccountNotFound) {
			return model.Account{}, errors.Wrap(errors.KindDomain, "ledger.account", "account not found", err)
		}
		return model.Account{}, errors.Wrap(errors.KindLedger, "ledger.account", "failed to read account", err)
	}
	return acct, nil
}

// Pending is the total of credits currently held for identityID.
func (l *Ledger) Pending(identityID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked(identityID)
}

func (l *Ledger) SetTierPrice(ctx context.Context, tier int, price int64) error {
	if price <= 0 {
		return errors.New(errors.KindValidation, "ledger.set_tier_price", "price must be positive")
	}
	if err := l.store.SetTierPrice(ctx, tier, price); err != nil {
		return errors.Wrap(errors.KindLedger, "ledger.set_tier_price", "failed to store tier price", err)
	}
	return nil
}
