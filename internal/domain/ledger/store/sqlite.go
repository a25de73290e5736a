package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nerfbot-server-go/internal/domain/ledger/model"
	"nerfbot-server-go/internal/platform/storage"
)

type sqliteStore struct {
	db    *gorm.DB
	owned bool
}

// NewSQLite builds a SQLite-backed ledger store on an already migrated handle.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) GetAccount(ctx context.Context, identityID string) (model.Account, error) {
	return s.fetch(s.db.WithContext(ctx), identityID)
}

func (s *sqliteStore) CreateAccount(ctx context.Context, account model.Account) (model.Account, bool, error) {
	if account.IdentityID == "" {
		return model.Account{}, false, fmt.Errorf("identity id required")
	}
	record := toRecord(account)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.LastResetDate.IsZero() {
		record.LastResetDate = record.CreatedAt
	}
	if record.SubscriptionAnniversary.IsZero() {
		record.SubscriptionAnniversary = record.CreatedAt
	}

	var created bool
	var stored model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		var err error
		stored, err = s.fetch(tx, account.IdentityID)
		return err
	})
	if err != nil {
		return model.Account{}, false, err
	}
	return stored, created, nil
}

func (s *sqliteStore) PutAccount(ctx context.Context, account model.Account) error {
	record := toRecord(account)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_level", "current_credits", "bonus_credits", "last_reset_date", "updated_at",
		}),
	}).Create(&record).Error
}

// Debit is a single conditional UPDATE; SQLite evaluates every SET
// expression against the pre-update row.
func (s *sqliteStore) Debit(ctx context.Context, identityID string, amount int64) (model.Account, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if amount > 0 {
			res := tx.Model(&storage.Subscriber{}).
				Where("user_id = ? AND current_credits + bonus_credits >= ?", identityID, amount).
				Updates(map[string]any{
					"bonus_credits":   gorm.Expr("bonus_credits - MAX(? - MAX(current_credits, 0), 0)", amount),
					"current_credits": gorm.Expr("current_credits - MIN(?, MAX(current_credits, 0))", amount),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				current, err := s.fetch(tx, identityID)
				if err != nil {
					return err
				}
				acct = current
				return ErrInsufficientBalance
			}
		}
		var err error
		acct, err = s.fetch(tx, identityID)
		return err
	})
	return acct, err
}

func (s *sqliteStore) AddBonus(ctx context.Context, identityID string, amount int64) (model.Account, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.Subscriber{}).
			Where("user_id = ?", identityID).
			Update("bonus_credits", gorm.Expr("bonus_credits + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		var err error
		acct, err = s.fetch(tx, identityID)
		return err
	})
	return acct, err
}

func (s *sqliteStore) GetTierPrice(ctx context.Context, tier int) (int64, error) {
	var level storage.SubscriptionLevel
	err := s.db.WithContext(ctx).Where("subscription_level = ?", tier).First(&level).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrPriceNotFound
	}
	if err != nil {
		return 0, err
	}
	return level.CreditsPerShot, nil
}

func (s *sqliteStore) SetTierPrice(ctx context.Context, tier int, price int64) error {
	level := storage.SubscriptionLevel{SubscriptionLevel: tier, CreditsPerShot: price}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_level"}},
		DoUpdates: clause.AssignmentColumns([]string{"credits_per_shot"}),
	}).Create(&level).Error
}

func (s *sqliteStore) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	return storage.Close(s.db)
}

func (s *sqliteStore) fetch(db *gorm.DB, identityID string) (model.Account, error) {
	var record storage.Subscriber
	err := db.Where("user_id = ?", identityID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Account{}, err
	}
	return fromRecord(record), nil
}

func toRecord(a model.Account) storage.Subscriber {
	return storage.Subscriber{
		UserID:            a.IdentityID,
		SubscriptionLevel: a.Tier,
		CurrentCredits:    a.Balance,
		BonusCredits:      a.BonusBalance,
		LastResetDate:     a.LastResetAt,
		CreatedAt:         a.CreatedAt,
	}
}

func fromRecord(r storage.Subscriber) model.Account {
	return model.Account{
		IdentityID:   r.UserID,
		Tier:         r.SubscriptionLevel,
		Balance:      r.CurrentCredits,
		BonusBalance: r.BonusCredits,
		CreatedAt:    r.CreatedAt,
		LastResetAt:  r.LastResetDate,
	}
}
