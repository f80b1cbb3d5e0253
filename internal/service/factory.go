// Package service wires configuration into the running components of the
// engine and the job server.
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/api"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/jobs"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/resolver"
	"github.com/xkilldash9x/portalpilot/internal/workflow"
)

// ComponentFactory creates the component sets used by the commands. It is an
// interface so command tests can substitute fakes.
type ComponentFactory interface {
	// CreateEngine builds the workflow engine and what it depends on.
	CreateEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
	// CreateServer additionally builds the job store, runner and API.
	CreateServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

func (f *concreteFactory) CreateEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}
	if err := buildEngine(ctx, c, cfg, logger); err != nil {
		c.Shutdown(ctx)
		return nil, err
	}
	logger.Debug("Engine components initialized.")
	return c, nil
}

func (f *concreteFactory) CreateServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*Components, error) {
	c := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			c.Shutdown(ctx)
		}
	}()

	if initializationErr = buildEngine(ctx, c, cfg, logger); initializationErr != nil {
		return nil, initializationErr
	}

	jobStore, pool, err := InitializeJobStore(ctx, cfg.Database, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.JobStore = jobStore
	c.DBPool = pool

	runner, err := jobs.NewRunner(c.Engine, jobStore, cfg, logger, jobs.WithMetrics(c.Metrics))
	if err != nil {
		initializationErr = fmt.Errorf("failed to create job runner: %w", err)
		return nil, initializationErr
	}
	c.Runner = runner

	c.API = api.NewServer(cfg.API, runner, c.Registry, logger, version)
	logger.Info("Server components initialized.", zap.Bool("persistent_jobs", pool != nil))
	return c, nil
}

func buildEngine(ctx context.Context, c *Components, cfg *config.Config, logger *zap.Logger) error {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = observability.NewMetrics(c.Registry)

	sessions, err := InitializeSessionStore(cfg.Session, logger)
	if err != nil {
		return err
	}
	c.Sessions = sessions

	res, err := resolver.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c.Resolver = res

	c.Browser = browser.NewManager(cfg.Browser, logger)
	c.Engine = workflow.New(c.Browser, res, sessions, cfg, logger, workflow.WithMetrics(c.Metrics))
	return nil
}
