package store

import (
	"context"
	"errors"

	"nerfbot-server-go/internal/domain/ledger/model"
)

var (
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrPriceNotFound       = errors.New("ledger: tier price not found")
)

// Store defines the durable operations required by the credit ledger.
type Store interface {
	GetAccount(ctx context.Context, identityID string) (model.Account, error)
	// CreateAccount inserts account unless one already exists and returns the
	// stored row together with whether it was created.
	CreateAccount(ctx context.Context, account model.Account) (model.Account, bool, error)
	PutAccount(ctx context.Context, account model.Account) error
	// Debit atomically subtracts amount when balance+bonus covers it, taking
	// from balance first and the remainder from bonus.
	Debit(ctx context.Context, identityID string, amount int64) (model.Account, error)
	AddBonus(ctx context.Context, identityID string, amount int64) (model.Account, error)
	GetTierPrice(ctx context.Context, tier int) (int64, error)
	SetTierPrice(ctx context.Context, tier int, price int64) error
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	SQLite *SQLiteConfig
	Redis  *RedisConfig
}

// SQLiteConfig names a dedicated database. Empty DSN requires Dependencies.SQLiteDB.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// splitDebit returns how much of amount is taken from balance and from bonus.
func splitDebit(balance, amount int64) (fromBalance, fromBonus int64) {
	spendable := balance
	if spendable < 0 {
		spendable = 0
	}
	fromBalance = amount
	if fromBalance > spendable {
		fromBalance = spendable
	}
	return fromBalance, amount - fromBalance
}
