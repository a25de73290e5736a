package gun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nerfbot-server-go/internal/platform/errors"
)

// GunConfig holds the aiming limits, calibration offsets and park pose of
// the launcher.
type GunConfig struct {
	MinHorizontal    int  `json:"min_horizontal"`
	MaxHorizontal    int  `json:"max_horizontal"`
	MinVertical      int  `json:"min_vertical"`
	MaxVertical      int  `json:"max_vertical"`
	HorizontalOffset int  `json:"horizontal_offset"`
	VerticalOffset   int  `json:"vertical_offset"`
	HomeX            int  `json:"home_x"`
	HomeY            int  `json:"home_y"`
	IdleTimeoutSecs  int  `json:"idle_timeout"`
	Active           bool `json:"active"`
}

func DefaultGunConfig() GunConfig {
	return GunConfig{
		MinHorizontal:   -45,
		MaxHorizontal:   45,
		MinVertical:     0,
		MaxVertical:     60,
		IdleTimeoutSecs: 300,
		Active:          true,
	}
}

func (c GunConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// Validate checks min <= max on both axes and a non-negative idle timeout.
func (c GunConfig) Validate() error {
	if c.MinHorizontal > c.MaxHorizontal {
		return errors.New(errors.KindValidation, "gun.config",
			fmt.Sprintf("min_horizontal %d exceeds max_horizontal %d", c.MinHorizontal, c.MaxHorizontal))
	}
	if c.MinVertical > c.MaxVertical {
		return errors.New(errors.KindValidation, "gun.config",
			fmt.Sprintf("min_vertical %d exceeds max_vertical %d", c.MinVertical, c.MaxVertical))
	}
	if c.IdleTimeoutSecs < 0 {
		return errors.New(errors.KindValidation, "gun.config", "idle_timeout must not be negative")
	}
	return nil
}

// ConfigSource persists GunConfig. Load resolves missing keys against defaults.
type ConfigSource interface {
	Load(ctx context.Context) (GunConfig, error)
	Save(ctx context.Context, cfg GunConfig) error
}

// ConfigState is the process-wide, lock-guarded view of GunConfig. The
// snapshot only changes on Reload, Update or RefreshActive.
type ConfigState struct {
	mu     sync.RWMutex
	cfg    GunConfig
	source ConfigSource
}

// NewConfigState resolves the configuration once from source. A nil source
// keeps fallback for the lifetime of the state.
func NewConfigState(ctx context.Context, source ConfigSource, fallback GunConfig) (*ConfigState, error) {
	s := &ConfigState{cfg: fallback, source: source}
	if source == nil {
		return s, fallback.Validate()
	}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigState) Current() GunConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *ConfigState) Reload(ctx context.Context) (GunConfig, error) {
	if s.source == nil {
		return s.Current(), nil
	}
	cfg, err := s.source.Load(ctx)
	if err != nil {
		return GunConfig{}, errors.Wrap(errors.KindConfig, "gun.config.reload", "failed to load gun config", err)
	}
	if err := cfg.Validate(); err != nil {
		return GunConfig{}, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}

// Update validates and persists cfg, then swaps it in.
func (s *ConfigState) Update(ctx context.Context, cfg GunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.source != nil {
		if err := s.source.Save(ctx, cfg); err != nil {
			return errors.Wrap(errors.KindStorage, "gun.config.update", "failed to save gun config", err)
		}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// RefreshActive re-reads only the master switch from the source.
func (s *ConfigState) RefreshActive(ctx context.Context) (bool, error) {
	if s.source == nil {
		return s.Current().Active, nil
	}
	fresh, err := s.source.Load(ctx)
	if err != nil {
		return s.Current().Active, err
	}
	s.mu.Lock()
	s.cfg.Active = fresh.Active
	s.mu.Unlock()
	return fresh.Active, nil
}
