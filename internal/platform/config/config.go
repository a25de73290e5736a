package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Device        DeviceConfig        `yaml:"device"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Database      DatabaseConfig      `yaml:"database"`
	Gun           GunDefaults         `yaml:"gun"`
	Channel       ChannelConfig       `yaml:"channel"`
	Watchdog      WatchdogConfig      `yaml:"watchdog"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP    string     `yaml:"ip"`
	Port  int        `yaml:"port"`
	Token string     `yaml:"token"`
	Auth  AuthConfig `yaml:"auth"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// Secret signs admin JWTs. Falls back to Server.Token when empty.
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// DeviceConfig 物理设备 HTTP 接口配置
type DeviceConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AwaitTimeout   time.Duration `yaml:"await_timeout"`
}

type LedgerConfig struct {
	Driver string           `yaml:"driver"`
	SQLite LedgerSQLite     `yaml:"sqlite,omitempty"`
	Redis  LedgerRedisStore `yaml:"redis,omitempty"`
}

type LedgerSQLite struct {
	// DSN opens a dedicated database; empty reuses Database.Path.
	DSN string `yaml:"dsn,omitempty"`
}

type LedgerRedisStore struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GunDefaults seeds system_config rows that are missing.
type GunDefaults struct {
	MinHorizontal    int  `yaml:"min_horizontal"`
	MaxHorizontal    int  `yaml:"max_horizontal"`
	MinVertical      int  `yaml:"min_vertical"`
	MaxVertical      int  `yaml:"max_vertical"`
	HorizontalOffset int  `yaml:"horizontal_offset"`
	VerticalOffset   int  `yaml:"vertical_offset"`
	HomeX            int  `yaml:"home_x"`
	HomeY            int  `yaml:"home_y"`
	IdleTimeout      int  `yaml:"idle_timeout"`
	Active           bool `yaml:"active"`
}

type ChannelConfig struct {
	Owners           []string `yaml:"owners"`
	FollowerRequired bool     `yaml:"follower_required"`
}

type WatchdogConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}
