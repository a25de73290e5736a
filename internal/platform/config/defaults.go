package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:    "0.0.0.0",
			Port:  8000,
			Token: "your_token",
			Auth: AuthConfig{
				Enabled:  true,
				TokenTTL: 24 * time.Hour,
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Device: DeviceConfig{
			URL:            "http://127.0.0.1:5000",
			RequestTimeout: 5 * time.Second,
			PollInterval:   100 * time.Millisecond,
			AwaitTimeout:   45 * time.Second,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			Redis: LedgerRedisStore{
				Addr:   "127.0.0.1:6379",
				Prefix: "nerfbot:ledger:",
			},
		},
		Database: DatabaseConfig{
			Path: "data/nerfbot.db",
		},
		Gun: GunDefaults{
			MinHorizontal: -45,
			MaxHorizontal: 45,
			MinVertical:   0,
			MaxVertical:   60,
			IdleTimeout:   300,
			Active:        true,
		},
		Watchdog: WatchdogConfig{
			Interval: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Enabled: true,
		},
	}
}
