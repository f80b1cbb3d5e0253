package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/api"
	"github.com/xkilldash9x/portalpilot/internal/jobs"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/session"
	"github.com/xkilldash9x/portalpilot/internal/workflow"
)

// shutdownTimeout bounds Shutdown when the caller's context has no deadline.
const shutdownTimeout = 30 * time.Second

// Components holds every initialized service of a process and centralizes
// their lifecycle. Server-only fields are nil for CLI workflow runs.
type Components struct {
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Browser  schemas.BrowserManager
	Sessions *session.Store
	Resolver schemas.SelectorResolver
	Engine   *workflow.Engine

	JobStore schemas.JobStore
	Runner   *jobs.Runner
	API      *api.Server
	DBPool   *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases components in reverse dependency order: the API stops
// taking jobs, the runner drains, the browser closes, then the database.
// It is safe on partially initialized components.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if c.API != nil {
		if err := c.API.Shutdown(ctx); err != nil {
			logger.Warn("Error during API shutdown.", zap.Error(err))
		}
	}

	if c.Runner != nil {
		c.Runner.Stop()
	}

	if c.Engine != nil {
		if err := c.Engine.Close(ctx); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	} else if c.Browser != nil {
		if err := c.Browser.Close(ctx); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
