package store

import (
	"fmt"

	"gorm.io/gorm"

	"nerfbot-server-go/internal/platform/storage"
)

// Driver identifiers supported by the ledger domain.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a ledger store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite, "database":
		if cfg.SQLite != nil && cfg.SQLite.DSN != "" {
			db, err := storage.Open(cfg.SQLite.DSN)
			if err != nil {
				return nil, err
			}
			return &sqliteStore{db: db, owned: true}, nil
		}
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported ledger store driver: %s", driver)
	}
}
