package migrations

import (
	"gorm.io/gorm"
)

// Migration001Initial 初始迁移 - 积分、配置与审计表
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create subscribers, subscription_levels, system_config and fire_events tables"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id VARCHAR(255) NOT NULL UNIQUE,
			subscription_level INTEGER NOT NULL DEFAULT 0,
			current_credits INTEGER NOT NULL DEFAULT 0,
			bonus_credits INTEGER NOT NULL DEFAULT 0,
			subscription_anniversary DATETIME,
			last_reset_date DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS subscription_levels (
			subscription_level INTEGER PRIMARY KEY,
			max_credits_per_day INTEGER NOT NULL DEFAULT 0,
			credits_per_shot INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_config (
			config_key VARCHAR(64) PRIMARY KEY,
			config_value TEXT NOT NULL,
			updated_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS fire_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(64) NOT NULL,
			intent_id VARCHAR(64),
			identity_id VARCHAR(255),
			data JSON NOT NULL,
			created_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_events_event_type ON fire_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_events_intent_id ON fire_events(intent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_events_identity_id ON fire_events(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_events_created_at ON fire_events(created_at)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
