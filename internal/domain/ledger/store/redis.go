package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nerfbot-server-go/internal/domain/ledger/model"
)

// 脚本返回 {code, balance, bonus}，code: 1 成功，0 余额不足，-1 账户不存在
var debitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0, 0}
end
local bal = tonumber(redis.call('HGET', KEYS[1], 'balance') or '0')
local bonus = tonumber(redis.call('HGET', KEYS[1], 'bonus') or '0')
local amount = tonumber(ARGV[1])
if bal + bonus < amount then
  return {0, bal, bonus}
end
local spendable = bal
if spendable < 0 then
  spendable = 0
end
local fromBal = amount
if fromBal > spendable then
  fromBal = spendable
end
bal = bal - fromBal
bonus = bonus - (amount - fromBal)
redis.call('HSET', KEYS[1], 'balance', bal, 'bonus', bonus)
return {1, bal, bonus}
`)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'tier', ARGV[1], 'balance', ARGV[2], 'bonus', ARGV[3], 'created_at', ARGV[4], 'last_reset_at', ARGV[5])
return 1
`)

var addBonusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HINCRBY', KEYS[1], 'bonus', ARGV[1])
return 1
`)

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a redis-backed ledger store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "nerfbot:ledger:"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) accountKey(id string) string {
	return s.prefix + "account:" + id
}

func (s *redisStore) tierKey(tier int) string {
	return s.prefix + "tier:" + strconv.Itoa(tier)
}

func (s *redisStore) GetAccount(ctx context.Context, identityID string) (model.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(identityID)).Result()
	if err != nil {
		return model.Account{}, err
	}
	if len(fields) == 0 {
		return model.Account{}, ErrAccountNotFound
	}
	return decodeAccount(identityID, fields)
}

func (s *redisStore) CreateAccount(ctx context.Context, account model.Account) (model.Account, bool, error) {
	if account.IdentityID == "" {
		return model.Account{}, false, fmt.Errorf("identity id required")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	if account.LastResetAt.IsZero() {
		account.LastResetAt = account.CreatedAt
	}
	created, err := createScript.Run(ctx, s.client, []string{s.accountKey(account.IdentityID)},
		account.Tier, account.Balance, account.BonusBalance,
		account.CreatedAt.Format(time.RFC3339Nano), account.LastResetAt.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return model.Account{}, false, err
	}
	stored, err := s.GetAccount(ctx, account.IdentityID)
	return stored, created == 1, err
}

func (s *redisStore) PutAccount(ctx context.Context, account model.Account) error {
	if account.IdentityID == "" {
		return fmt.Errorf("identity id required")
	}
	return s.client.HSet(ctx, s.accountKey(account.IdentityID),
		"tier", account.Tier,
		"balance", account.Balance,
		"bonus", account.BonusBalance,
		"created_at", account.CreatedAt.Format(time.RFC3339Nano),
		"last_reset_at", account.LastResetAt.Format(time.RFC3339Nano),
	).Err()
}

func (s *redisStore) Debit(ctx context.Context, identityID string, amount int64) (model.Account, error) {
	if amount <= 0 {
		return s.GetAccount(ctx, identityID)
	}
	res, err := debitScript.Run(ctx, s.client, []string{s.accountKey(identityID)}, amount).Int64Slice()
	if err != nil {
		return model.Account{}, err
	}
	if len(res) != 3 {
		return model.Account{}, fmt.Errorf("unexpected debit reply: %v", res)
	}
	switch res[0] {
	case -1:
		return model.Account{}, ErrAccountNotFound
	case 0:
		acct, err := s.GetAccount(ctx, identityID)
		if err != nil {
			return model.Account{}, err
		}
		return acct, ErrInsufficientBalance
	}
	return s.GetAccount(ctx, identityID)
}

func (s *redisStore) AddBonus(ctx context.Context, identityID string, amount int64) (model.Account, error) {
	code, err := addBonusScript.Run(ctx, s.client, []string{s.accountKey(identityID)}, amount).Int()
	if err != nil {
		return model.Account{}, err
	}
	if code != 1 {
		return model.Account{}, ErrAccountNotFound
	}
	return s.GetAccount(ctx, identityID)
}

func (s *redisStore) GetTierPrice(ctx context.Context, tier int) (int64, error) {
	price, err := s.client.Get(ctx, s.tierKey(tier)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrPriceNotFound
	}
	return price, err
}

func (s *redisStore) SetTierPrice(ctx context.Context, tier int, price int64) error {
	return s.client.Set(ctx, s.tierKey(tier), price, 0).Err()
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}

func decodeAccount(identityID string, fields map[string]string) (model.Account, error) {
	acct := model.Account{IdentityID: identityID}
	var err error
	if acct.Tier, err = strconv.Atoi(fields["tier"]); err != nil {
		return model.Account{}, fmt.Errorf("decode tier: %w", err)
	}
	if acct.Balance, err = strconv.ParseInt(fields["balance"], 10, 64); err != nil {
		return model.Account{}, fmt.Errorf("decode balance: %w", err)
	}
	if acct.BonusBalance, err = strconv.ParseInt(fields["bonus"], 10, 64); err != nil {
		return model.Account{}, fmt.Errorf("decode bonus: %w", err)
	}
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	acct.LastResetAt, _ = time.Parse(time.RFC3339Nano, fields["last_reset_at"])
	return acct, nil
}
