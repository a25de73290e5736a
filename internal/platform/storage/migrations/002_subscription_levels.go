package migrations

import "gorm.io/gorm"

// Migration002SubscriptionLevels 写入默认订阅等级价格
type Migration002SubscriptionLevels struct{}

func (m *Migration002SubscriptionLevels) Version() string {
	return "002_subscription_levels"
}

func (m *Migration002SubscriptionLevels) Description() string {
	return "Seed default per-shot prices for subscription tiers 0-3"
}

func (m *Migration002SubscriptionLevels) Up(db *gorm.DB) error {
	return db.Exec(`
		INSERT OR IGNORE INTO subscription_levels (subscription_level, max_credits_per_day, credits_per_shot) VALUES
			(0, 5, 1),
			(1, 100, 10),
			(2, 200, 8),
			(3, 300, 6)
	`).Error
}
