package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nerfbot-server-go/internal/domain/gun"
	"nerfbot-server-go/internal/platform/errors"
	"nerfbot-server-go/internal/platform/storage"
)

// system_config 键名
const (
	KeyMinHorizontal    = "min_horizontal_angle"
	KeyMaxHorizontal    = "max_horizontal_angle"
	KeyMinVertical      = "min_vertical_angle"
	KeyMaxVertical      = "max_vertical_angle"
	KeyHorizontalOffset = "horizontal_offset"
	KeyVerticalOffset   = "vertical_offset"
	KeyHomeX            = "home_x"
	KeyHomeY            = "home_y"
	KeyIdleTimeout      = "idle_timeout"
	KeyGunActive        = "gun_active"
)

// SystemConfigRepository stores GunConfig as key/value rows in system_config.
type SystemConfigRepository struct {
	db       *gorm.DB
	defaults gun.GunConfig
}

func NewSystemConfig(db *gorm.DB, defaults gun.GunConfig) *SystemConfigRepository {
	return &SystemConfigRepository{db: db, defaults: defaults}
}

func (r *SystemConfigRepository) intFields(cfg *gun.GunConfig) map[string]*int {
	return map[string]*int{
		KeyMinHorizontal:    &cfg.MinHorizontal,
		KeyMaxHorizontal:    &cfg.MaxHorizontal,
		KeyMinVertical:      &cfg.MinVertical,
		KeyMaxVertical:      &cfg.MaxVertical,
		KeyHorizontalOffset: &cfg.HorizontalOffset,
		KeyVerticalOffset:   &cfg.VerticalOffset,
		KeyHomeX:            &cfg.HomeX,
		KeyHomeY:            &cfg.HomeY,
		KeyIdleTimeout:      &cfg.IdleTimeoutSecs,
	}
}

// Load reads every row and overlays it on the defaults. Rows that fail to
// parse keep the default value.
func (r *SystemConfigRepository) Load(ctx context.Context) (gun.GunConfig, error) {
	var rows []storage.SystemConfig
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return gun.GunConfig{}, errors.Wrap(errors.KindStorage, "gun_config.load", "failed to read system_config", err)
	}

	cfg := r.defaults
	ints := r.intFields(&cfg)
	for _, row := range rows {
		value := strings.TrimSpace(row.ConfigValue)
		if row.ConfigKey == KeyGunActive {
			cfg.Active = value == "1" || strings.EqualFold(value, "true")
			continue
		}
		target, ok := ints[row.ConfigKey]
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		}
	}
	return cfg, nil
}

// Save upserts every key of cfg in one transaction.
func (r *SystemConfigRepository) Save(ctx context.Context, cfg gun.GunConfig) error {
	now := time.Now()
	rows := make([]storage.SystemConfig, 0, 10)
	for key, value := range r.intFields(&cfg) {
		rows = append(rows, storage.SystemConfig{ConfigKey: key, ConfigValue: strconv.Itoa(*value), UpdatedAt: now})
	}
	active := "0"
	if cfg.Active {
		active = "1"
	}
	rows = append(rows, storage.SystemConfig{ConfigKey: KeyGunActive, ConfigValue: active, UpdatedAt: now})

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "gun_config.save", "failed to write system_config", err)
	}
	return nil
}

// SetActive flips only the master switch row.
func (r *SystemConfigRepository) SetActive(ctx context.Context, active bool) error {
	value := "0"
	if active {
		value = "1"
	}
	row := storage.SystemConfig{ConfigKey: KeyGunActive, ConfigValue: value, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "gun_config.set_active", "failed to write gun_active", err)
	}
	return nil
}
