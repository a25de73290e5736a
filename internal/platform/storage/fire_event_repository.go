package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nerfbot-server-go/internal/platform/errors"
)

const defaultRecentLimit = 50

// FireEventRepository persists the audit trail of fire intents and recenters.
type FireEventRepository struct {
	db *gorm.DB
}

func NewFireEventRepository(db *gorm.DB) *FireEventRepository {
	return &FireEventRepository{db: db}
}

func (r *FireEventRepository) Record(ctx context.Context, eventType, intentID, identityID string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "fire_event.encode", "failed to encode event payload", err)
	}
	event := &FireEvent{
		EventType:  eventType,
		IntentID:   intentID,
		IdentityID: identityID,
		Data:       datatypes.JSON(data),
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "fire_event.record", "failed to record fire event", err)
	}
	return nil
}

// Recent returns the newest events first. An empty eventType matches all.
func (r *FireEventRepository) Recent(ctx context.Context, eventType string, limit int) ([]FireEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultRecentLimit
	}
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	var events []FireEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "fire_event.recent", "failed to list fire events", err)
	}
	return events, nil
}
