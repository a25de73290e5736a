package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Subscriber 观众积分账户
type Subscriber struct {
	ID                      uint      `gorm:"primaryKey"`
	UserID                  string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	SubscriptionLevel       int       `gorm:"not null;default:0"`
	CurrentCredits          int64     `gorm:"not null;default:0"`
	BonusCredits            int64     `gorm:"not null;default:0"`
	SubscriptionAnniversary time.Time
	LastResetDate           time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (Subscriber) TableName() string { return "subscribers" }

// SubscriptionLevel 订阅等级定价
type SubscriptionLevel struct {
	SubscriptionLevel int   `gorm:"primaryKey;autoIncrement:false"`
	MaxCreditsPerDay  int64
	CreditsPerShot    int64 `gorm:"not null"`
}

func (SubscriptionLevel) TableName() string { return "subscription_levels" }

// SystemConfig 炮台配置键值对
type SystemConfig struct {
	ConfigKey   string `gorm:"primaryKey;type:varchar(64)"`
	ConfigValue string `gorm:"not null"`
	UpdatedAt   time.Time
}

func (SystemConfig) TableName() string { return "system_config" }

// FireEvent 开火审计事件
type FireEvent struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	EventType  string         `gorm:"index;not null" json:"event_type"`
	IntentID   string         `gorm:"index" json:"intent_id,omitempty"`
	IdentityID string         `gorm:"index" json:"identity_id,omitempty"`
	Data       datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (FireEvent) TableName() string { return "fire_events" }
