package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/ledger/model"
)

// storeContract exercises the behaviour every driver must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("missing account", func(t *testing.T) {
		_, err := s.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		_, err = s.Debit(ctx, "ghost", 1)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		_, err = s.AddBonus(ctx, "ghost", 1)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("create is insert-if-absent", func(t *testing.T) {
		acct, created, err := s.CreateAccount(ctx, model.Account{IdentityID: "alice", Tier: 1, Balance: 100})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(100), acct.Balance)
		assert.False(t, acct.CreatedAt.IsZero())

		again, created, err := s.CreateAccount(ctx, model.Account{IdentityID: "alice", Tier: 3, Balance: 300})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1, again.Tier)
		assert.Equal(t, int64(100), again.Balance)
	})

	t.Run("debit balance before bonus", func(t *testing.T) {
		_, _, err := s.CreateAccount(ctx, model.Account{IdentityID: "bob", Tier: 0, Balance: 5})
		require.NoError(t, err)
		acct, err := s.AddBonus(ctx, "bob", 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10), acct.BonusBalance)

		acct, err = s.Debit(ctx, "bob", 8)
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.Balance)
		assert.Equal(t, int64(7), acct.BonusBalance)

		acct, err = s.Debit(ctx, "bob", 8)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(7), acct.Available(), "failed debit leaves the row untouched")

		acct, err = s.Debit(ctx, "bob", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(7), acct.BonusBalance)
	})

	t.Run("negative balance is never spent further", func(t *testing.T) {
		require.NoError(t, s.PutAccount(ctx, model.Account{IdentityID: "carol", Tier: 2, Balance: -4, BonusBalance: 10}))
		acct, err := s.Debit(ctx, "carol", 6)
		require.NoError(t, err)
		assert.Equal(t, int64(-4), acct.Balance)
		assert.Equal(t, int64(4), acct.BonusBalance)
	})

	t.Run("concurrent debits never oversubtract", func(t *testing.T) {
		_, _, err := s.CreateAccount(ctx, model.Account{IdentityID: "dave", Tier: 1, Balance: 10})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Debit(ctx, "dave", 10); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		acct, err := s.GetAccount(ctx, "dave")
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.Balance)
	})

	t.Run("tier prices", func(t *testing.T) {
		_, err := s.GetTierPrice(ctx, 42)
		assert.ErrorIs(t, err, ErrPriceNotFound)

		require.NoError(t, s.SetTierPrice(ctx, 42, 7))
		price, err := s.GetTierPrice(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(7), price)

		require.NoError(t, s.SetTierPrice(ctx, 42, 9))
		price, err = s.GetTierPrice(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(9), price)
	})
}
