package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nerfbot-server-go/internal/domain/ledger/model"
)

type memoryStore struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	prices   map[int]int64
}

// NewMemory builds an in-memory ledger store. Prices start empty so the
// ledger falls back to its default table.
func NewMemory() Store {
	return &memoryStore{
		accounts: make(map[string]model.Account),
		prices:   make(map[int]int64),
	}
}

func (s *memoryStore) GetAccount(_ context.Context, identityID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[identityID]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (s *memoryStore) CreateAccount(_ context.Context, account model.Account) (model.Account, bool, error) {
	if account.IdentityID == "" {
		return model.Account{}, false, fmt.Errorf("identity id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[account.IdentityID]; ok {
		return existing, false, nil
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	if account.LastResetAt.IsZero() {
		account.LastResetAt = account.CreatedAt
	}
	s.accounts[account.IdentityID] = account
	return account, true, nil
}

func (s *memoryStore) PutAccount(_ context.Context, account model.Account) error {
	if account.IdentityID == "" {
		return fmt.Errorf("identity id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.IdentityID] = account
	return nil
}

func (s *memoryStore) Debit(_ context.Context, identityID string, amount int64) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[identityID]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	if amount <= 0 {
		return acct, nil
	}
	if acct.Available() < amount {
		return acct, ErrInsufficientBalance
	}
	fromBalance, fromBonus := splitDebit(acct.Balance, amount)
	acct.Balance -= fromBalance
	acct.BonusBalance -= fromBonus
	s.accounts[identityID] = acct
	return acct, nil
}

func (s *memoryStore) AddBonus(_ context.Context, identityID string, amount int64) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[identityID]
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	acct.BonusBalance += amount
	s.accounts[identityID] = acct
	return acct, nil
}

func (s *memoryStore) GetTierPrice(_ context.Context, tier int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[tier]
	if !ok {
		return 0, ErrPriceNotFound
	}
	return price, nil
}

func (s *memoryStore) SetTierPrice(_ context.Context, tier int, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[tier] = price
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
