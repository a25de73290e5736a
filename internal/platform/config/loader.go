package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "nerfbot-server-go/internal/platform/errors"
)

const (
	DefaultPath = "config.yaml"
	EnvPrefix   = "NERFBOT_"
)

// Loader resolves configuration from defaults, a yaml file and the environment.
type Loader struct {
	path      string
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath
	}
	return &Loader{
		path:      path,
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
	// FromFile is false when no config file existed and defaults were used.
	FromFile bool
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// 缺少 .env 文件时直接使用系统环境变量
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	fromFile := false

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "解析配置文件失败", err)
		}
		fromFile = true
	case os.IsNotExist(err):
	default:
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "读取配置文件失败", err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: l.path, FromFile: fromFile}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	strVars := map[string]*string{
		"SERVER_IP":      &cfg.Server.IP,
		"SERVER_TOKEN":   &cfg.Server.Token,
		"AUTH_SECRET":    &cfg.Server.Auth.Secret,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_DIR":        &cfg.Log.Dir,
		"DEVICE_URL":     &cfg.Device.URL,
		"LEDGER_DRIVER":  &cfg.Ledger.Driver,
		"LEDGER_DSN":     &cfg.Ledger.SQLite.DSN,
		"REDIS_ADDR":     &cfg.Ledger.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Ledger.Redis.Password,
		"DATABASE_PATH":  &cfg.Database.Path,
	}
	for key, target := range strVars {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			*target = v
		}
	}

	intVars := map[string]*int{
		"SERVER_PORT": &cfg.Server.Port,
		"REDIS_DB":    &cfg.Ledger.Redis.DB,
	}
	for key, target := range intVars {
		v, ok := l.lookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "config.env", EnvPrefix+key+" 不是整数", err)
		}
		*target = n
	}

	durVars := map[string]*time.Duration{
		"DEVICE_TIMEOUT":    &cfg.Device.RequestTimeout,
		"DEVICE_AWAIT":      &cfg.Device.AwaitTimeout,
		"WATCHDOG_INTERVAL": &cfg.Watchdog.Interval,
	}
	for key, target := range durVars {
		v, ok := l.lookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "config.env", EnvPrefix+key+" 不是合法时长", err)
		}
		*target = d
	}

	if v, ok := l.lookupEnv(EnvPrefix + "CHANNEL_OWNERS"); ok {
		cfg.Channel.Owners = cfg.Channel.Owners[:0]
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Channel.Owners = append(cfg.Channel.Owners, name)
			}
		}
	}
	return nil
}

func validate(cfg *Config) error {
	invalid := func(msg string) error {
		return platformerrors.New(platformerrors.KindConfig, "config.validate", msg)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid(fmt.Sprintf("server.port 超出范围: %d", cfg.Server.Port))
	}
	if strings.TrimSpace(cfg.Device.URL) == "" {
		return invalid("device.url 不能为空")
	}
	if cfg.Device.RequestTimeout <= 0 || cfg.Device.PollInterval <= 0 || cfg.Device.AwaitTimeout <= 0 {
		return invalid("device 超时与轮询间隔必须为正数")
	}
	if cfg.Watchdog.Interval <= 0 {
		return invalid("watchdog.interval 必须为正数")
	}
	if cfg.Gun.MinHorizontal > cfg.Gun.MaxHorizontal {
		return invalid("gun.min_horizontal 大于 gun.max_horizontal")
	}
	if cfg.Gun.MinVertical > cfg.Gun.MaxVertical {
		return invalid("gun.min_vertical 大于 gun.max_vertical")
	}
	if cfg.Gun.IdleTimeout < 0 {
		return invalid("gun.idle_timeout 不能为负数")
	}
	switch cfg.Ledger.Driver {
	case "memory", "sqlite", "database":
	case "redis":
		if cfg.Ledger.Redis.Addr == "" {
			return invalid("ledger.redis.addr 不能为空")
		}
	default:
		return invalid("未知的 ledger.driver: " + cfg.Ledger.Driver)
	}
	return nil
}
