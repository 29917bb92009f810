package httpapi

import (
	"database/sql"
	"sync/atomic"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/events"
	"oppscout-engine/internal/pipeline"
)

type Deps struct {
	DB *sql.DB

	Hub *events.Hub

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Pipeline (StartRun injected for testability)
	Registry *pipeline.Registry
	StartRun func(jobID string)

	// Report downloads
	DownloadDir string
}
