package httptransport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nerfbot-server-go/internal/domain/auth"
	"nerfbot-server-go/internal/domain/gun"
	"nerfbot-server-go/internal/domain/ledger"
	"nerfbot-server-go/internal/platform/config"
	"nerfbot-server-go/internal/platform/errors"
	"nerfbot-server-go/internal/platform/logging"
)

// Dependencies are the domain services mounted by NewAPI.
type Dependencies struct {
	Config     *config.Config
	Logger     *logging.Logger
	Arbitrator *gun.Arbitrator
	Ledger     *ledger.Ledger
	Events     EventReader
	Migrations MigrationReader
	Gatherer   prometheus.Gatherer
	StartedAt  time.Time
}

// NewAPI builds the router and mounts every service on it.
func NewAPI(deps Dependencies) (*Router, error) {
	if deps.Config == nil {
		return nil, errors.New(errors.KindConfig, "http.api", "config is required")
	}
	secret := deps.Config.Server.Auth.Secret
	if secret == "" {
		secret = deps.Config.Server.Token
	}
	tokens := auth.NewAdminToken(secret).WithTTL(deps.Config.Server.Auth.TokenTTL)
	authSvc := NewAuthService(tokens, deps.Config.Server.Token, deps.Config.Server.Auth.Enabled, deps.Logger)

	router, err := Build(Options{
		Config:         deps.Config,
		Logger:         deps.Logger,
		AuthMiddleware: authSvc.Middleware(),
	})
	if err != nil {
		return nil, err
	}

	gunSvc, err := NewGunService(deps.Arbitrator, deps.Logger)
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := NewLedgerService(deps.Ledger)
	if err != nil {
		return nil, err
	}
	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	systemSvc := NewSystemService(deps.Events, deps.Migrations, deps.Gatherer, startedAt)

	authSvc.Register(router.API)
	systemSvc.RegisterPublic(router.Engine)
	gunSvc.Register(router.Secured)
	ledgerSvc.Register(router.Secured)
	systemSvc.Register(router.Secured)

	deps.Logger.InfoTag("HTTP", "API routes registered")
	return router, nil
}
