package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/service"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the job API and worker pool",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := service.NewComponentFactory().CreateServer(ctx, cfg, logger, Version)
			if err != nil {
				return fmt.Errorf("failed to initialize server components: %w", err)
			}
			defer components.Shutdown(context.WithoutCancel(ctx))

			components.Runner.Start(ctx)

			errCh := make(chan error, 1)
			go func() { errCh <- components.API.Start() }()

			select {
			case <-ctx.Done():
				logger.Info("Received shutdown signal, shutting down gracefully...")
				return nil
			case err := <-errCh:
				if err != nil {
					logger.Error("Job API stopped unexpectedly", zap.Error(err))
					return fmt.Errorf("job API failed: %w", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().String("addr", "", "Listen address of the job API (overrides api.addr)")
	annotate(cmd.Flags(), "addr", "api.addr")
	return cmd
}
