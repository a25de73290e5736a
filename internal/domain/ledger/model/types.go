package model

import "time"

// Account is the credit balance of one requesting identity.
type Account struct {
	IdentityID   string    `json:"identity_id"`
	Tier         int       `json:"tier"`
	Balance      int64     `json:"balance"`
	BonusBalance int64     `json:"bonus_balance"`
	CreatedAt    time.Time `json:"created_at"`
	LastResetAt  time.Time `json:"last_reset_at"`
}

// Available is the spendable total across both pools.
func (a Account) Available() int64 {
	return a.Balance + a.BonusBalance
}

// Logger provides the minimal logging contract required by the ledger.
type Logger interface {
	WarnTag(tag, msg string, args ...any)
	InfoTag(tag, msg string, args ...any)
}
