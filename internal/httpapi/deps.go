package httpapi

import (
	"context"
	"database/sql"
	"sync/atomic"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/events"
)

type Deps struct {
	DB *sql.DB

	Hub *events.Hub

	// Atomic stores
	CfgVal    *atomic.Value // stores config.Config
	RunStatus *atomic.Value // stores httpapi.RunStatus

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Pipeline entrypoint (inject for testability)
	RunPipeline func(ctx context.Context) (domain.RunLog, error)
}
