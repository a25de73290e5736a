package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool `yaml:"enabled"`
}

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	stateMu            sync.RWMutex
	instrumentationLog *slog.Logger
	instrumentationCfg Config
	spanMetrics        *Metrics
)

func current() (*slog.Logger, Config, *Metrics) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return instrumentationLog, instrumentationCfg, spanMetrics
}

// Setup wires span logging and span metrics. metrics may be nil.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger, metrics *Metrics) (ShutdownFunc, error) {
	stateMu.Lock()
	instrumentationLog = logger
	instrumentationCfg = cfg
	spanMetrics = metrics
	stateMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[OBSERVABILITY][SETUP] spans enabled")
		} else {
			logger.InfoContext(ctx, "[OBSERVABILITY][SETUP] disabled")
		}
	}
	return func(context.Context) error {
		stateMu.Lock()
		instrumentationLog = nil
		instrumentationCfg = Config{}
		spanMetrics = nil
		stateMu.Unlock()
		return nil
	}, nil
}
